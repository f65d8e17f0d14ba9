package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gcal "google.golang.org/api/calendar/v3"

	"calendar-notifier/pkg/digest"
)

// PrimaryKeyword selects the account's primary calendar in the configured
// calendar name list.
const PrimaryKeyword = "primary"

// GoogleProvider reads events from the Google Calendar API.
type GoogleProvider struct {
	svc    *gcal.Service
	logger *slog.Logger
	loc    *time.Location
	names  []string
	ids    []string // resolved calendar IDs, cached after the first lookup
}

// NewGoogleProvider creates a provider reading the calendars whose names
// match the given list. Matching is case-insensitive substring; the keyword
// "PRIMARY" selects the account's primary calendar.
func NewGoogleProvider(svc *gcal.Service, names []string, loc *time.Location, logger *slog.Logger) *GoogleProvider {
	return &GoogleProvider{svc: svc, names: names, loc: loc, logger: logger}
}

// Events fetches events from all matched calendars within [from, to).
func (p *GoogleProvider) Events(ctx context.Context, from, to time.Time) ([]digest.Event, error) {
	ids, err := p.calendarIDs(ctx)
	if err != nil {
		return nil, err
	}

	var events []digest.Event
	for _, id := range ids {
		evs, err := p.eventsForCalendar(ctx, id, from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch events for %s: %w", id, err)
		}
		events = append(events, evs...)
	}
	sortByStart(events)

	p.logger.Info("Fetched calendar events",
		"calendars", len(ids),
		"event_count", len(events),
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339))

	return events, nil
}

// calendarIDs resolves the configured calendar names against the account's
// calendar list. The result is cached; calendar membership rarely changes
// within a process lifetime.
func (p *GoogleProvider) calendarIDs(ctx context.Context) ([]string, error) {
	if len(p.ids) > 0 {
		return p.ids, nil
	}

	var entries []*gcal.CalendarListEntry
	err := retry.Do(
		func() error {
			entries = entries[:0]
			token := ""
			for {
				call := p.svc.CalendarList.List().Context(ctx)
				if token != "" {
					call = call.PageToken(token)
				}
				resp, err := call.Do()
				if err != nil {
					return fmt.Errorf("list calendars: %w", err)
				}
				entries = append(entries, resp.Items...)
				if resp.NextPageToken == "" {
					return nil
				}
				token = resp.NextPageToken
			}
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying calendar list after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	ids := matchCalendars(p.names, entries)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no calendars matched %v", p.names)
	}

	p.logger.Info("Resolved calendars", "names", p.names, "matched", len(ids))
	p.ids = ids
	return ids, nil
}

// matchCalendars maps configured names to calendar IDs, preserving the
// configured order and dropping duplicates.
func matchCalendars(names []string, entries []*gcal.CalendarListEntry) []string {
	var ids []string
	seen := make(map[string]bool)

	for _, name := range names {
		want := strings.ToLower(strings.TrimSpace(name))
		if want == "" {
			continue
		}
		for _, entry := range entries {
			var matched bool
			if want == PrimaryKeyword {
				matched = entry.Primary
			} else {
				matched = strings.Contains(strings.ToLower(entry.Summary), want)
			}
			if matched && !seen[entry.Id] {
				seen[entry.Id] = true
				ids = append(ids, entry.Id)
			}
		}
	}

	return ids
}

func (p *GoogleProvider) eventsForCalendar(ctx context.Context, id string, from, to time.Time) ([]digest.Event, error) {
	var items []*gcal.Event
	err := retry.Do(
		func() error {
			items = items[:0]
			token := ""
			for {
				call := p.svc.Events.List(id).Context(ctx).
					SingleEvents(true).
					OrderBy("startTime").
					TimeMin(from.Format(time.RFC3339)).
					TimeMax(to.Format(time.RFC3339))
				if token != "" {
					call = call.PageToken(token)
				}
				resp, err := call.Do()
				if err != nil {
					return err
				}
				items = append(items, resp.Items...)
				if resp.NextPageToken == "" {
					return nil
				}
				token = resp.NextPageToken
			}
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying event fetch after error", "calendar", id, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	events := make([]digest.Event, 0, len(items))
	for _, item := range items {
		ev, ok := p.convertEvent(item, id)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// convertEvent maps an API event to the internal representation. Cancelled
// events and events without usable times are skipped.
func (p *GoogleProvider) convertEvent(item *gcal.Event, calendarID string) (digest.Event, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil || item.End == nil {
		return digest.Event{}, false
	}

	ev := digest.Event{
		ID:          item.Id,
		CalendarID:  calendarID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}

	if item.Organizer != nil {
		ev.Organizer = item.Organizer.DisplayName
		if ev.Organizer == "" {
			ev.Organizer = item.Organizer.Email
		}
	}

	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			ev.Updated = t
		}
	}

	start, allDay, err := p.parseEventTime(item.Start)
	if err != nil {
		p.logger.Warn("Skipping event with unparseable start", "id", item.Id, "error", err)
		return digest.Event{}, false
	}
	end, _, err := p.parseEventTime(item.End)
	if err != nil {
		p.logger.Warn("Skipping event with unparseable end", "id", item.Id, "error", err)
		return digest.Event{}, false
	}

	ev.Start = start
	ev.End = end
	ev.AllDay = allDay
	return ev, true
}

// parseEventTime handles the two API time shapes: all-day events carry a
// bare date, timed events an RFC3339 datetime.
func (p *GoogleProvider) parseEventTime(edt *gcal.EventDateTime) (t time.Time, allDay bool, err error) {
	if edt.Date != "" {
		t, err = time.ParseInLocation("2006-01-02", edt.Date, p.loc)
		return t, true, err
	}
	t, err = time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.In(p.loc), false, nil
}
