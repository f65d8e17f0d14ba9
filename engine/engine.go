// Package engine runs the digest pipeline: change polls and scheduled digests.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calendar-notifier/diff"
	"calendar-notifier/pkg/digest"
)

// Calendar interface for fetching events.
type Calendar interface {
	Events(ctx context.Context, from, to time.Time) ([]digest.Event, error)
}

// Store interface for snapshot persistence.
type Store interface {
	LoadSnapshot(ctx context.Context) (*digest.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *digest.Snapshot) error
}

// Sender interface for delivering digest messages.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Composer interface for rendering digest messages.
type Composer interface {
	Daily(day time.Time, events []digest.Event) string
	Weekly(weekStart time.Time, events []digest.Event) string
	Changes(cs digest.ChangeSet) string
}

// Scheduler interface for job due-ness and period tracking.
type Scheduler interface {
	Due(now time.Time) []digest.JobKind
	Commit(ctx context.Context, kind digest.JobKind, at time.Time) error
	LastChangeSentAt() time.Time
	MarkChangeSent(at time.Time)
	Status() []digest.JobStatus
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Engine evaluates the schedule and runs due jobs.
type Engine struct {
	calendar   Calendar
	store      Store
	sender     Sender
	composer   Composer
	scheduler  Scheduler
	logger     *slog.Logger
	isNotFound IsNotFound
	loc        *time.Location
	now        func() time.Time

	weekStart         time.Weekday
	updateWindowStart int
	updateWindowEnd   int
	minUpdateInterval time.Duration
	persistBeforeSend bool

	// mu serializes job execution between the loop and forced runs.
	mu sync.Mutex
}

// Config holds engine configuration.
type Config struct {
	Calendar   Calendar
	Store      Store
	Sender     Sender
	Composer   Composer
	Scheduler  Scheduler
	Logger     *slog.Logger
	IsNotFound IsNotFound

	// Location is the timezone all day and week boundaries are computed in.
	Location *time.Location

	// WeekStart is the first day of the weekly digest window.
	WeekStart time.Weekday

	// UpdateWindowStart and UpdateWindowEnd bound the local hours during
	// which change messages are sent. Changes detected outside the window
	// are held until it opens. The zero pair means the full day.
	UpdateWindowStart int
	UpdateWindowEnd   int

	// MinUpdateInterval is the minimum spacing between change messages.
	MinUpdateInterval time.Duration

	// PersistBeforeSend saves the snapshot before sending the change
	// message, trading possible lost updates for no duplicates.
	PersistBeforeSend bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a new digest engine.
func New(cfg *Config) *Engine {
	e := &Engine{
		calendar:          cfg.Calendar,
		store:             cfg.Store,
		sender:            cfg.Sender,
		composer:          cfg.Composer,
		scheduler:         cfg.Scheduler,
		logger:            cfg.Logger,
		isNotFound:        cfg.IsNotFound,
		loc:               cfg.Location,
		now:               cfg.Now,
		weekStart:         cfg.WeekStart,
		updateWindowStart: cfg.UpdateWindowStart,
		updateWindowEnd:   cfg.UpdateWindowEnd,
		minUpdateInterval: cfg.MinUpdateInterval,
		persistBeforeSend: cfg.PersistBeforeSend,
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.updateWindowStart == 0 && e.updateWindowEnd == 0 {
		e.updateWindowEnd = 24
	}
	return e
}

// Run evaluates the schedule every interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.logger.Info("Starting digest loop", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Digest loop stopped", "error", ctx.Err())
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick evaluates the schedule once and runs every due job. A failed job is
// logged and left uncommitted so the next tick retries it.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().In(e.loc)
	for _, kind := range e.scheduler.Due(now) {
		if err := ctx.Err(); err != nil {
			e.logger.Info("Context cancelled, stopping tick", "error", err)
			return
		}
		if err := e.runJob(ctx, kind, now); err != nil {
			e.logger.Warn("Job failed, will retry on a later tick", "job", kind, "error", err)
		}
	}
}

// RunKind runs one job immediately, regardless of its schedule. Forced runs
// commit like scheduled ones, so the regular schedule resumes from here.
func (e *Engine) RunKind(ctx context.Context, kind digest.JobKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.runJob(ctx, kind, e.now().In(e.loc))
}

// Status reports the schedule state of all jobs.
func (e *Engine) Status() []digest.JobStatus {
	return e.scheduler.Status()
}

func (e *Engine) runJob(ctx context.Context, kind digest.JobKind, now time.Time) error {
	switch kind {
	case digest.JobPollTick:
		return e.runPoll(ctx, now)
	case digest.JobDailyDigest:
		return e.runDaily(ctx, now)
	case digest.JobWeeklyDigest:
		return e.runWeekly(ctx, now)
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
}

// runPoll fetches the current day, diffs it against the stored snapshot and
// sends a change message when something notifiable changed.
func (e *Engine) runPoll(ctx context.Context, now time.Time) error {
	from := startOfDay(now)
	to := from.AddDate(0, 0, 1)

	events, err := e.calendar.Events(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	current := digest.NewSnapshot(now, events)

	previous, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		if e.isNotFound != nil && e.isNotFound(err) {
			// First run: record the baseline without announcing every
			// existing event as new.
			if err := e.store.SaveSnapshot(ctx, current); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
			e.logger.Info("Initial snapshot recorded", "event_count", len(current.Events))
			return e.scheduler.Commit(ctx, digest.JobPollTick, now)
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	// A snapshot from a previous day describes a window that no longer
	// exists; diffing across the boundary would report the whole day
	// swapped. Start the new day from a fresh baseline instead.
	if !sameDay(previous.CapturedAt.In(e.loc), now) {
		if err := e.store.SaveSnapshot(ctx, current); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		e.logger.Info("Day rolled over, baseline snapshot recorded",
			"previous_capture", previous.CapturedAt.In(e.loc).Format(time.RFC3339),
			"event_count", len(current.Events))
		return e.scheduler.Commit(ctx, digest.JobPollTick, now)
	}

	changes := diff.Compute(*previous, *current)
	if !changes.Notifiable() {
		e.logger.Debug("No notifiable changes", "event_count", len(current.Events))
		if err := e.store.SaveSnapshot(ctx, current); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		return e.scheduler.Commit(ctx, digest.JobPollTick, now)
	}

	// Held changes stay out of the snapshot so they surface again once
	// the window opens or the throttle clears.
	if !e.insideUpdateWindow(now) {
		e.logger.Info("Holding change message outside update window",
			"hour", now.Hour(),
			"window_start", e.updateWindowStart,
			"window_end", e.updateWindowEnd)
		return e.scheduler.Commit(ctx, digest.JobPollTick, now)
	}

	if wait := e.minUpdateInterval - now.Sub(e.scheduler.LastChangeSentAt()); wait > 0 {
		e.logger.Info("Throttling change message", "retry_in", wait.String())
		return e.scheduler.Commit(ctx, digest.JobPollTick, now)
	}

	e.logger.Info("Calendar changes detected",
		"added", len(changes.Added),
		"removed", len(changes.Removed),
		"modified", len(changes.Modified))

	text := e.composer.Changes(changes)

	if e.persistBeforeSend {
		if err := e.store.SaveSnapshot(ctx, current); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if err := e.sender.Send(ctx, text); err != nil {
			return fmt.Errorf("send update: %w", err)
		}
	} else {
		if err := e.sender.Send(ctx, text); err != nil {
			return fmt.Errorf("send update: %w", err)
		}
		if err := e.store.SaveSnapshot(ctx, current); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	e.scheduler.MarkChangeSent(now)
	return e.scheduler.Commit(ctx, digest.JobPollTick, now)
}

// runDaily sends the schedule for the rest of the day.
func (e *Engine) runDaily(ctx context.Context, now time.Time) error {
	to := startOfDay(now).AddDate(0, 0, 1)

	events, err := e.calendar.Events(ctx, now, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	if err := e.sender.Send(ctx, e.composer.Daily(now, events)); err != nil {
		return fmt.Errorf("send daily digest: %w", err)
	}

	e.logger.Info("Daily digest sent", "event_count", len(events))
	return e.scheduler.Commit(ctx, digest.JobDailyDigest, now)
}

// runWeekly sends the full schedule for the current week.
func (e *Engine) runWeekly(ctx context.Context, now time.Time) error {
	from := startOfWeek(now, e.weekStart)
	to := from.AddDate(0, 0, 7)

	events, err := e.calendar.Events(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	if err := e.sender.Send(ctx, e.composer.Weekly(from, events)); err != nil {
		return fmt.Errorf("send weekly digest: %w", err)
	}

	e.logger.Info("Weekly digest sent", "event_count", len(events))
	return e.scheduler.Commit(ctx, digest.JobWeeklyDigest, now)
}

func (e *Engine) insideUpdateWindow(now time.Time) bool {
	h := now.Hour()
	start, end := e.updateWindowStart, e.updateWindowEnd
	switch {
	case start == end:
		return false
	case start < end:
		return h >= start && h < end
	default:
		// Window wraps past midnight.
		return h >= start || h < end
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// startOfWeek walks back to the most recent week-start midnight.
func startOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := startOfDay(t)
	for day.Weekday() != weekStart {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
