package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	auditdomain "auth-platform/backend/internal/audit/domain"
	"auth-platform/backend/internal/session/domain"
)

// SweepResult counts the rows changed by SweepRevokeAndDelete.
type SweepResult struct {
	Revoked int
	Deleted int
}

// SweepInactive moves ACTIVE sessions idle for at least the inactivity threshold to INACTIVE and stamps them
// with the sweep time. Running it twice in a row changes nothing the second time.
func (m *Manager) SweepInactive(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "session.SweepInactive")
	defer func() {
		span.SetAttributes(attribute.Int("sessions.inactivated", n))
		endSpan(span, err)
	}()

	now := m.now().UTC()
	cutoff := now.Add(-m.cfg.InactivityThreshold)
	err = m.store(ctx, "sweep_inactive", func(ctx context.Context) error {
		var err error
		n, err = m.sessions.TransitionStale(ctx, domain.StatusActive, domain.StatusInactive, cutoff, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.metrics.SweepTransitions("inactivated", n)
	if n > 0 {
		m.record(ctx, "", auditdomain.ActionSweep, fmt.Sprintf("inactivated=%d", n))
		m.logger.InfoContext(ctx, "sweep: sessions inactivated", "count", n)
	}
	return n, nil
}

// SweepRevokeAndDelete revokes INACTIVE sessions past the revocation threshold, then deletes REVOKED
// sessions past the retention threshold. Revocation stamps the sweep time, so a session revoked in this
// pass is never deleted in the same pass.
func (m *Manager) SweepRevokeAndDelete(ctx context.Context) (res SweepResult, err error) {
	ctx, span := tracer.Start(ctx, "session.SweepRevokeAndDelete")
	defer func() {
		span.SetAttributes(attribute.Int("sessions.revoked", res.Revoked), attribute.Int("sessions.deleted", res.Deleted))
		endSpan(span, err)
	}()

	now := m.now().UTC()
	err = m.store(ctx, "sweep_revoke", func(ctx context.Context) error {
		var err error
		res.Revoked, err = m.sessions.TransitionStale(ctx, domain.StatusInactive, domain.StatusRevoked,
			now.Add(-m.cfg.RevocationThreshold), now)
		return err
	})
	if err != nil {
		return res, err
	}
	m.metrics.SweepTransitions("revoked", res.Revoked)

	err = m.store(ctx, "sweep_delete", func(ctx context.Context) error {
		var err error
		res.Deleted, err = m.sessions.DeleteStale(ctx, domain.StatusRevoked, now.Add(-m.cfg.RetentionThreshold))
		return err
	})
	if err != nil {
		return res, err
	}
	m.metrics.SweepTransitions("deleted", res.Deleted)

	if res.Revoked > 0 || res.Deleted > 0 {
		m.record(ctx, "", auditdomain.ActionSweep, fmt.Sprintf("revoked=%d deleted=%d", res.Revoked, res.Deleted))
		m.logger.InfoContext(ctx, "sweep: sessions revoked and deleted", "revoked", res.Revoked, "deleted", res.Deleted)
	}
	return res, nil
}
