// Package scheduler runs the session sweeps on a ticker. Each job is single-flight per name: a trigger that
// arrives while the same job is running waits for that run and shares its result instead of starting another.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"auth-platform/backend/internal/logging"
)

// Job is one named sweep.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs in order on every tick.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	group    singleflight.Group
	logger   *slog.Logger
}

// New returns a Scheduler firing every interval.
func New(interval time.Duration, logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{interval: interval, jobs: jobs, logger: logger}
}

// Start runs every job once, then again on each tick until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweep scheduler started", "interval", s.interval, "jobs", len(s.jobs))
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job in order. A failing job is logged and does not stop the ones after it; it is not
// retried until the next firing.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		shared, err := s.Trigger(ctx, job.Name)
		if err != nil {
			logging.Error(ctx, s.logger, "sweep failed", oops.With("job", job.Name).Wrap(err))
			continue
		}
		s.logger.DebugContext(ctx, "sweep finished", "job", job.Name, "shared", shared,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Trigger runs the named job now unless it is already running, in which case it waits for the running
// instance. shared reports whether the result came from another caller's run.
func (s *Scheduler) Trigger(ctx context.Context, name string) (shared bool, err error) {
	job, ok := s.job(name)
	if !ok {
		return false, oops.Code("UNKNOWN_JOB").With("job", name).Errorf("no job named %q", name)
	}
	_, err, shared = s.group.Do(name, func() (any, error) {
		return nil, job.Run(ctx)
	})
	return shared, err
}

func (s *Scheduler) job(name string) (Job, bool) {
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
