// Package schedule tracks recurring job anchors and decides which jobs are due.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"calendar-notifier/pkg/digest"
)

// Store persists fire times between process restarts.
type Store interface {
	SaveSchedule(ctx context.Context, state *digest.ScheduleState) error
}

// Job pairs a job kind with the schedule that drives it.
type Job struct {
	Schedule cron.Schedule
	Kind     digest.JobKind
}

// ParseJob builds a Job from a standard five-field cron expression.
func ParseJob(kind digest.JobKind, spec string) (Job, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Job{}, fmt.Errorf("parse schedule for %s: %w", kind, err)
	}
	return Job{Kind: kind, Schedule: sched}, nil
}

// EveryJob builds a Job that fires on a constant delay.
func EveryJob(kind digest.JobKind, every time.Duration) Job {
	return Job{Kind: kind, Schedule: cron.Every(every)}
}

// Scheduler answers which jobs are due at a given instant and records
// completed fires. A job is due when its schedule has an anchor after the
// last recorded fire that is not in the future; any number of missed
// anchors collapse into a single due signal.
type Scheduler struct {
	store  Store
	logger *slog.Logger
	state  *digest.ScheduleState
	jobs   []Job
}

// New creates a scheduler over the given jobs, reusing previously persisted
// state. Jobs with no recorded fire are seeded with now, so their first fire
// waits for the next anchor instead of triggering at startup.
func New(store Store, jobs []Job, state *digest.ScheduleState, now time.Time, logger *slog.Logger) *Scheduler {
	if state == nil {
		state = &digest.ScheduleState{}
	}
	if state.LastFired == nil {
		state.LastFired = make(map[digest.JobKind]time.Time, len(jobs))
	}
	for _, job := range jobs {
		if state.LastFired[job.Kind].IsZero() {
			state.LastFired[job.Kind] = now
			logger.Info("Seeded schedule state",
				"job", job.Kind,
				"seeded_at", now.Format(time.RFC3339),
				"next_fire", job.Schedule.Next(now).Format(time.RFC3339))
		}
	}
	return &Scheduler{
		store:  store,
		logger: logger,
		state:  state,
		jobs:   jobs,
	}
}

// Due returns the kinds due at now, in the order the jobs were registered.
func (s *Scheduler) Due(now time.Time) []digest.JobKind {
	var due []digest.JobKind
	for _, job := range s.jobs {
		next := job.Schedule.Next(s.state.LastFired[job.Kind])
		if !next.After(now) {
			due = append(due, job.Kind)
		}
	}
	return due
}

// Commit records that kind completed at the given instant and persists the
// state. Nothing else advances fire times: a job that failed stays due.
func (s *Scheduler) Commit(ctx context.Context, kind digest.JobKind, at time.Time) error {
	s.state.LastFired[kind] = at
	if err := s.store.SaveSchedule(ctx, s.state); err != nil {
		return fmt.Errorf("save schedule state: %w", err)
	}
	s.logger.Debug("Job committed", "job", kind, "fired_at", at.Format(time.RFC3339))
	return nil
}

// LastChangeSentAt returns when the last change notification went out.
func (s *Scheduler) LastChangeSentAt() time.Time {
	return s.state.LastChangeSentAt
}

// MarkChangeSent records a change notification; persisted by the next Commit.
func (s *Scheduler) MarkChangeSent(at time.Time) {
	s.state.LastChangeSentAt = at
}

// Status reports each job's last fire and next anchor, in registration order.
func (s *Scheduler) Status() []digest.JobStatus {
	statuses := make([]digest.JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		last := s.state.LastFired[job.Kind]
		statuses = append(statuses, digest.JobStatus{
			Kind:      job.Kind,
			LastFired: last,
			NextAt:    job.Schedule.Next(last),
		})
	}
	return statuses
}
