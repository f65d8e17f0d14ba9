// Package digest contains the core domain types for the calendar notification service.
package digest

import "time"

// JobKind identifies one of the recurring jobs the service runs.
type JobKind string

const (
	JobPollTick     JobKind = "poll"   // change-detection poll of the watched window
	JobDailyDigest  JobKind = "daily"  // full listing of the current day
	JobWeeklyDigest JobKind = "weekly" // full listing of the current week
)

// Event represents a single calendar event occurrence.
type Event struct {
	Start       time.Time `json:"start"`                 // Event start in the display timezone
	End         time.Time `json:"end"`                   // Event end (exclusive for all-day events)
	Updated     time.Time `json:"updated"`               // Source last-modified timestamp
	ID          string    `json:"id"`                    // Stable identity across polls
	CalendarID  string    `json:"calendar_id,omitempty"` // Source calendar the event came from
	Title       string    `json:"title"`                 // Event summary line
	Description string    `json:"description,omitempty"` // Free-form body, may contain HTML
	Location    string    `json:"location,omitempty"`    // Venue or meeting link
	Organizer   string    `json:"organizer,omitempty"`   // Organizer display name or address
	AllDay      bool      `json:"all_day"`               // Date-only event without clock times
}

// Snapshot is the persisted view of the watched window at one point in time.
type Snapshot struct {
	CapturedAt time.Time        `json:"captured_at"` // When the snapshot was taken
	Events     map[string]Event `json:"events"`      // Map of event ID -> Event
}

// NewSnapshot builds a snapshot of the given events captured at the given instant.
func NewSnapshot(at time.Time, events []Event) *Snapshot {
	snap := &Snapshot{
		CapturedAt: at,
		Events:     make(map[string]Event, len(events)),
	}
	for _, ev := range events {
		snap.Events[ev.ID] = ev
	}
	return snap
}

// EventChange pairs the previous and current version of a modified event.
type EventChange struct {
	Before Event `json:"before"`
	After  Event `json:"after"`
}

// ChangeSet describes how the watched window differs between two snapshots.
// Every event appears in at most one of the three lists.
type ChangeSet struct {
	Added    []Event       `json:"added"`
	Removed  []Event       `json:"removed"`
	Modified []EventChange `json:"modified"`
}

// Notifiable reports whether the change set contains anything worth a message.
func (c ChangeSet) Notifiable() bool {
	return len(c.Added) > 0 || len(c.Removed) > 0 || len(c.Modified) > 0
}

// ScheduleState records when each job last completed and when the last
// change notification went out. It is persisted between restarts so missed
// anchors are detected after downtime.
type ScheduleState struct {
	LastFired        map[JobKind]time.Time `json:"last_fired"`
	LastChangeSentAt time.Time             `json:"last_change_sent_at"`
}

// JobStatus describes one job's position in its schedule.
type JobStatus struct {
	LastFired time.Time `json:"last_fired"`
	NextAt    time.Time `json:"next_at"`
	Kind      JobKind   `json:"kind"`
}
