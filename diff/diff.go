// Package diff computes the difference between two calendar snapshots.
package diff

import (
	"sort"

	"calendar-notifier/pkg/digest"
)

// Compute compares two snapshots and reports which events were added,
// removed, or modified. Events are matched by ID. An event counts as
// modified only when a field that renders in a digest changed: title,
// start, end, all-day flag, or location. Description edits and bare
// last-modified churn never trigger a notification.
//
// The returned lists are sorted by start time, then ID, so equal inputs
// always produce an identical change set.
func Compute(old, current digest.Snapshot) digest.ChangeSet {
	var cs digest.ChangeSet

	for id, ev := range current.Events {
		prev, ok := old.Events[id]
		if !ok {
			cs.Added = append(cs.Added, ev)
			continue
		}
		if renderedFieldsDiffer(prev, ev) {
			cs.Modified = append(cs.Modified, digest.EventChange{Before: prev, After: ev})
		}
	}

	for id, ev := range old.Events {
		if _, ok := current.Events[id]; !ok {
			cs.Removed = append(cs.Removed, ev)
		}
	}

	sortEvents(cs.Added)
	sortEvents(cs.Removed)
	sort.Slice(cs.Modified, func(i, j int) bool {
		a, b := cs.Modified[i].After, cs.Modified[j].After
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})

	return cs
}

func renderedFieldsDiffer(a, b digest.Event) bool {
	return a.Title != b.Title ||
		!a.Start.Equal(b.Start) ||
		!a.End.Equal(b.End) ||
		a.AllDay != b.AllDay ||
		a.Location != b.Location
}

func sortEvents(events []digest.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}
