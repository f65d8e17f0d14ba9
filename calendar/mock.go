package calendar

import (
	"context"
	"log/slog"
	"time"

	"calendar-notifier/pkg/digest"
)

// MockProvider is a mock calendar for local development. It returns a fixed
// schedule anchored to the requested window so digests have something to show.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock calendar provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Events returns deterministic sample events inside [from, to).
func (m *MockProvider) Events(_ context.Context, from, to time.Time) ([]digest.Event, error) {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	candidates := []digest.Event{
		{
			ID:         "mock-standup",
			CalendarID: "mock",
			Title:      "Team standup",
			Location:   "Meeting room 1",
			Start:      day.Add(9*time.Hour + 30*time.Minute),
			End:        day.Add(9*time.Hour + 45*time.Minute),
		},
		{
			ID:         "mock-tennis",
			CalendarID: "mock",
			Title:      "Tennis with Alex",
			Location:   "City courts",
			Start:      day.Add(18 * time.Hour),
			End:        day.Add(19 * time.Hour),
		},
		{
			ID:         "mock-errands",
			CalendarID: "mock",
			Title:      "Errands day",
			Start:      day,
			End:        day.AddDate(0, 0, 1),
			AllDay:     true,
		},
	}

	var events []digest.Event
	for _, ev := range candidates {
		if ev.End.After(from) && ev.Start.Before(to) {
			events = append(events, ev)
		}
	}
	sortByStart(events)

	m.logger.Info("MOCK CALENDAR",
		"event_count", len(events),
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339))

	return events, nil
}
