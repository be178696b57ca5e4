package app

import (
	"context"
	"log/slog"

	"auth-platform/backend/internal/session/scheduler"
	sessionsvc "auth-platform/backend/internal/session/service"
)

// Sweep job names.
const (
	JobInactivate      = "inactivate"
	JobRevokeAndDelete = "revoke_and_delete"
)

// Sweeper is the part of the session manager driven by the scheduler.
type Sweeper interface {
	SweepInactive(ctx context.Context) (int, error)
	SweepRevokeAndDelete(ctx context.Context) (sessionsvc.SweepResult, error)
}

// SweepJobs returns the two sweeps in the order they must run on each tick.
func SweepJobs(s Sweeper, logger *slog.Logger) []scheduler.Job {
	return []scheduler.Job{
		{Name: JobInactivate, Run: func(ctx context.Context) error {
			n, err := s.SweepInactive(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.InfoContext(ctx, "sessions inactivated", "count", n)
			}
			return nil
		}},
		{Name: JobRevokeAndDelete, Run: func(ctx context.Context) error {
			res, err := s.SweepRevokeAndDelete(ctx)
			if err != nil {
				return err
			}
			if res.Revoked > 0 || res.Deleted > 0 {
				logger.InfoContext(ctx, "sessions revoked and deleted", "revoked", res.Revoked, "deleted", res.Deleted)
			}
			return nil
		}},
	}
}
