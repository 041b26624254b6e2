// Package sched runs the recurring collection jobs on wall-clock
// cadences: interval jobs like the one-minute stream poll and daily
// jobs like the report generator. All jobs run inline in a single scan
// loop, so two jobs never overlap and per-job state needs no locking.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/stream-pulse/telemetry"
)

// scanInterval is how often the run loop checks for due jobs. Cadences
// below this resolution are clamped to it.
const scanInterval = time.Second

// JobFunc is one run of a scheduled job. It receives the scheduler's
// run context and should return once that context is canceled.
type JobFunc func(context.Context) error

type job struct {
	name string
	fn   JobFunc
	next time.Time
	// reschedule computes the following run from the completion time,
	// so a slow job cannot pile up missed runs behind itself.
	reschedule func(now time.Time) time.Time
}

// Scheduler fires registered jobs from a single goroutine. A failing
// job is logged, counted, and rescheduled; it never stops the loop and
// never blocks another job from its next slot for longer than its own
// runtime.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.Mutex
	jobs []*job
}

func New() *Scheduler {
	return &Scheduler{
		log: slog.Default().With(slog.String("component", "sched")),
		now: time.Now,
	}
}

// Every registers fn to run once per interval. The first run is one
// interval from now; call fn directly before Run for an immediate
// first pass.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) {
	if interval < scanInterval {
		interval = scanInterval
	}
	s.add(&job{
		name:       name,
		fn:         fn,
		next:       s.now().Add(interval),
		reschedule: func(now time.Time) time.Time { return now.Add(interval) },
	})
}

// DailyAt registers fn to run once a day at hour:min UTC. When that
// time has already passed today, the first run is tomorrow.
func (s *Scheduler) DailyAt(name string, hour, min int, fn JobFunc) {
	s.add(&job{
		name:       name,
		fn:         fn,
		next:       nextDaily(s.now().UTC(), hour, min),
		reschedule: func(now time.Time) time.Time { return nextDaily(now.UTC(), hour, min) },
	})
}

func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

func nextDaily(now time.Time, hour, min int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks scanning for due jobs until ctx is canceled. Register all
// jobs before calling Run.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	s.log.Info("scheduler started", slog.Int("jobs", count))

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runPending(ctx)
		}
	}
}

func (s *Scheduler) runPending(ctx context.Context) {
	for _, j := range s.due(s.now()) {
		err := s.runJob(ctx, j)
		telemetry.CountJobRun(j.name, err)
		if err != nil {
			s.log.Error("job failed", slog.String("job", j.name), slog.Any("err", err))
		} else {
			s.log.Debug("job ran", slog.String("job", j.name))
		}
		s.mu.Lock()
		j.next = j.reschedule(s.now())
		s.mu.Unlock()
	}
}

// runJob invokes one job, converting a panic into an error so one bad
// job cannot take down the scan loop.
func (s *Scheduler) runJob(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(ctx)
}

func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	return due
}
