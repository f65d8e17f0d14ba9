// Package calendar fetches events from calendar backends.
package calendar

import (
	"context"
	"sort"
	"time"

	"calendar-notifier/pkg/digest"
)

// Provider defines the interface for calendar reading implementations.
type Provider interface {
	// Events returns all events overlapping the half-open window [from, to),
	// sorted by start time.
	Events(ctx context.Context, from, to time.Time) ([]digest.Event, error)
}

// sortByStart orders merged events by start time, then ID for equal starts.
func sortByStart(events []digest.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}
