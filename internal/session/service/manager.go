// Package service implements the session state machine: creation, refresh rotation, logout, blocking and the
// scheduled sweeps that age sessions from ACTIVE to INACTIVE to REVOKED and finally delete them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auth-platform/backend/internal/audit"
	auditdomain "auth-platform/backend/internal/audit/domain"
	"auth-platform/backend/internal/notification"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/security"
	"auth-platform/backend/internal/session/domain"
	"auth-platform/backend/internal/session/repository"
	"auth-platform/backend/internal/telemetry/metrics"
	userdomain "auth-platform/backend/internal/user/domain"
)

// Notification texts sent by the manager.
const (
	MsgMultipleSessions = "Multiple active sessions detected for your account."
	MsgSessionsBlocked  = "All active sessions have been blocked. Your account is frozen."
	msgAdminBlockFormat = "All sessions of user %s have been blocked and the account is frozen."
)

var tracer = otel.Tracer("auth-platform/backend/internal/session/service")

// UserReader loads the owner of a session during refresh.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Config holds token lifetimes, sweep thresholds and per-call deadlines.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	InactivityThreshold time.Duration
	RevocationThreshold time.Duration
	RetentionThreshold  time.Duration

	// StoreTimeout and NotifyTimeout bound each storage and notification call; zero means no extra deadline.
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration

	// NotifyStrict makes a failed notification abort session creation and be returned from blocking.
	// When false the failure is logged and the operation continues.
	NotifyStrict bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          7 * 24 * time.Hour,
		InactivityThreshold: 2 * time.Hour,
		RevocationThreshold: 24 * time.Hour,
		RetentionThreshold:  24 * time.Hour,
		StoreTimeout:        5 * time.Second,
		NotifyTimeout:       5 * time.Second,
		NotifyStrict:        true,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Tests pass the same clock to the TokenIssuer.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithAudit sets the audit logger.
func WithAudit(a audit.AuditLogger) Option {
	return func(m *Manager) { m.audit = a }
}

// Manager owns every session status transition. It is safe for concurrent use; all shared state lives in
// the session repository.
type Manager struct {
	sessions repository.Repository
	users    UserReader
	tokens   *security.TokenIssuer
	notifier notification.Gateway
	cfg      Config

	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.Recorder
	audit   audit.AuditLogger
}

// NewManager returns a Manager with the given dependencies.
func NewManager(
	sessions repository.Repository,
	users UserReader,
	tokens *security.TokenIssuer,
	notifier notification.Gateway,
	cfg Config,
	opts ...Option,
) *Manager {
	m := &Manager{
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
		metrics:  (*metrics.Collector)(nil),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateSession mints a token pair for user and stores an ACTIVE session holding their digests.
// It fails with UserBlocked or HasBlockedSessions; when the user already has an ACTIVE session a warning is
// sent first, and under NotifyStrict a failed warning aborts the creation.
func (m *Manager) CreateSession(ctx context.Context, user *userdomain.User) (pair *domain.TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "session.Create")
	defer func() { endSpan(span, err) }()

	if user == nil {
		return nil, apperr.New(apperr.ErrNotFound)
	}
	if user.IsBlocked {
		return nil, apperr.New(apperr.ErrUserBlocked, "user_id", user.ID)
	}
	if err := m.ensureNoBlockedSessions(ctx, user.ID); err != nil {
		return nil, err
	}

	active, err := m.count(ctx, user.ID, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		if err := m.notify(ctx, "multiple_sessions", user.Email, MsgMultipleSessions); err != nil && m.cfg.NotifyStrict {
			return nil, err
		}
	}

	now := m.now().UTC()
	pair, hashes, err := m.issuePair(user, now)
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		AccessTokenHash:  hashes.AccessTokenHash,
		RefreshTokenHash: hashes.RefreshTokenHash,
		AccessExpiresAt:  hashes.AccessExpiresAt,
		RefreshExpiresAt: hashes.RefreshExpiresAt,
		Status:           domain.StatusActive,
		CreatedAt:        now,
		LastActivityTime: now,
	}
	if err := m.store(ctx, "create", func(ctx context.Context) error { return m.sessions.Create(ctx, s) }); err != nil {
		return nil, err
	}

	m.metrics.SessionCreated()
	m.record(ctx, user.ID, auditdomain.ActionSessionCreated, "session_id="+s.ID)
	m.logger.InfoContext(ctx, "session created", "session_id", s.ID, "user_id", user.ID)
	return pair, nil
}

// RefreshAccessToken exchanges a refresh token for a new pair. The old pair stops matching any session the
// moment the rotation commits. A caller that loses a race on the same token gets ConcurrentRefreshConflict.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshToken string) (pair *domain.TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "session.Refresh")
	defer func() {
		m.metrics.RefreshOutcome(refreshOutcome(err))
		endSpan(span, err)
	}()

	claims, err := m.tokens.Parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != security.TokenTypeRefresh {
		return nil, apperr.New(apperr.ErrTokenInvalid, "reason", "not a refresh token")
	}

	oldHash := security.Digest(refreshToken)
	var s *domain.Session
	err = m.store(ctx, "get_by_refresh_hash", func(ctx context.Context) error {
		var err error
		s, err = m.sessions.GetByRefreshHash(ctx, oldHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.ErrSessionNotFound)
	}
	if !s.IsActive() {
		return nil, apperr.New(apperr.ErrSessionNotActive, "session_id", s.ID, "status", string(s.Status))
	}

	var user *userdomain.User
	err = m.store(ctx, "get_user", func(ctx context.Context) error {
		var err error
		user, err = m.users.GetByID(ctx, s.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.New(apperr.ErrSessionNotFound, "session_id", s.ID)
	}
	if user.IsBlocked {
		return nil, apperr.New(apperr.ErrUserBlocked, "user_id", user.ID)
	}
	if err := m.ensureNoBlockedSessions(ctx, user.ID); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	pair, next, err := m.issuePair(user, now)
	if err != nil {
		return nil, err
	}
	var rotated bool
	err = m.store(ctx, "rotate", func(ctx context.Context) error {
		var err error
		rotated, err = m.sessions.Rotate(ctx, s.ID, oldHash, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, apperr.New(apperr.ErrConcurrentRefreshConflict, "session_id", s.ID)
	}

	m.record(ctx, user.ID, auditdomain.ActionSessionRefreshed, "session_id="+s.ID)
	return pair, nil
}

// DeactivateByAccessToken logs out the session of the bearer token in header. A second call for the same
// token fails with SessionNotFound because only ACTIVE sessions are matched.
func (m *Manager) DeactivateByAccessToken(ctx context.Context, header string) error {
	token, ok := security.BearerToken(header)
	if !ok {
		return apperr.New(apperr.ErrInvalidHeader)
	}
	var done bool
	err := m.store(ctx, "deactivate", func(ctx context.Context) error {
		var err error
		done, err = m.sessions.DeactivateByAccessHash(ctx, security.Digest(token), m.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	if !done {
		return apperr.New(apperr.ErrSessionNotFound)
	}
	userID := ""
	if claims, err := m.tokens.ParseAllowExpired(token); err == nil {
		userID = claims.UserID
	}
	m.record(ctx, userID, auditdomain.ActionSessionDeactivated, "")
	return nil
}

// IsSessionActive reports whether the session of accessToken is ACTIVE. It does not stamp activity.
func (m *Manager) IsSessionActive(ctx context.Context, accessToken string) (bool, error) {
	var s *domain.Session
	err := m.store(ctx, "get_by_access_hash", func(ctx context.Context) error {
		var err error
		s, err = m.sessions.GetByAccessHash(ctx, security.Digest(accessToken))
		return err
	})
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, apperr.New(apperr.ErrSessionNotFound)
	}
	return s.IsActive(), nil
}

// UpdateLastActivityTime stamps one ACTIVE session of user with the current time.
func (m *Manager) UpdateLastActivityTime(ctx context.Context, user *userdomain.User) error {
	var touched bool
	err := m.store(ctx, "touch", func(ctx context.Context) error {
		var err error
		touched, err = m.sessions.TouchActive(ctx, user.ID, m.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	if !touched {
		return apperr.New(apperr.ErrNoActiveSession, "user_id", user.ID)
	}
	return nil
}

// TouchSession stamps the ACTIVE session owning accessToken with the current time.
func (m *Manager) TouchSession(ctx context.Context, accessToken string) error {
	var touched bool
	err := m.store(ctx, "touch_session", func(ctx context.Context) error {
		var err error
		touched, err = m.sessions.TouchByAccessHash(ctx, security.Digest(accessToken), m.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	if !touched {
		return apperr.New(apperr.ErrNoActiveSession)
	}
	return nil
}

// BlockUserSessions moves every ACTIVE session of user to BLOCKED, then tells the user and every admin.
// The status change is applied before any notification; a delivery failure is returned under NotifyStrict
// but never undoes the block. With no admins the condition is logged and blocking still succeeds.
func (m *Manager) BlockUserSessions(ctx context.Context, user *userdomain.User, admins []*userdomain.User) (n int, err error) {
	ctx, span := tracer.Start(ctx, "session.Block")
	defer func() { endSpan(span, err) }()

	err = m.store(ctx, "block", func(ctx context.Context) error {
		var err error
		n, err = m.sessions.BlockActiveByUser(ctx, user.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.record(ctx, user.ID, auditdomain.ActionSessionsBlocked, fmt.Sprintf("count=%d", n))
	m.logger.InfoContext(ctx, "user sessions blocked", "user_id", user.ID, "count", n)

	var errs []error
	if err := m.notify(ctx, "block", user.Email, MsgSessionsBlocked); err != nil {
		errs = append(errs, err)
	}
	if len(admins) == 0 {
		m.logger.WarnContext(ctx, "no admins to notify about blocked user", "user_id", user.ID)
	}
	for _, admin := range admins {
		if admin == nil || admin.Email == "" {
			continue
		}
		if err := m.notify(ctx, "block", admin.Email, fmt.Sprintf(msgAdminBlockFormat, user.Username)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && m.cfg.NotifyStrict {
		return n, errors.Join(errs...)
	}
	return n, nil
}

// HasBlockedSessions reports whether any session of userID is BLOCKED.
func (m *Manager) HasBlockedSessions(ctx context.Context, userID string) (bool, error) {
	n, err := m.count(ctx, userID, domain.StatusBlocked)
	return n > 0, err
}

// DeleteUserSessions removes every session of userID and returns how many were removed.
func (m *Manager) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := m.store(ctx, "delete_by_user", func(ctx context.Context) error {
		var err error
		n, err = m.sessions.DeleteByUser(ctx, userID)
		return err
	})
	return n, err
}

func (m *Manager) ensureNoBlockedSessions(ctx context.Context, userID string) error {
	blocked, err := m.count(ctx, userID, domain.StatusBlocked)
	if err != nil {
		return err
	}
	if blocked > 0 {
		return apperr.New(apperr.ErrHasBlockedSessions, "user_id", userID)
	}
	return nil
}

func (m *Manager) count(ctx context.Context, userID string, status domain.Status) (int, error) {
	var n int
	err := m.store(ctx, "count_"+string(status), func(ctx context.Context) error {
		var err error
		n, err = m.sessions.CountByUserAndStatus(ctx, userID, status)
		return err
	})
	return n, err
}

// issuePair signs a fresh access/refresh pair for user and returns the digests to persist.
func (m *Manager) issuePair(user *userdomain.User, now time.Time) (*domain.TokenPair, repository.Rotation, error) {
	claims := security.UserClaims{Role: string(user.Role), Email: user.Email, UserID: user.ID}

	claims.TokenType = security.TokenTypeAccess
	access, err := m.tokens.Issue(user.Username, claims, m.cfg.AccessTTL)
	if err != nil {
		return nil, repository.Rotation{}, oops.Code("TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	claims.TokenType = security.TokenTypeRefresh
	refresh, err := m.tokens.Issue(user.Username, claims, m.cfg.RefreshTTL)
	if err != nil {
		return nil, repository.Rotation{}, oops.Code("TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, repository.Rotation{
		AccessTokenHash:  security.Digest(access),
		RefreshTokenHash: security.Digest(refresh),
		AccessExpiresAt:  now.Add(m.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(m.cfg.RefreshTTL),
		At:               now,
	}, nil
}

// store runs fn under the per-call storage deadline. A deadline hit is reported as a Timeout.
func (m *Manager) store(ctx context.Context, op string, fn func(context.Context) error) error {
	if m.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StoreTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(context.DeadlineExceeded, err, "op", op)
	}
	return oops.With("op", op).Wrap(err)
}

// notify delivers one message under the per-call deadline. Failures are counted and logged here; the caller
// decides whether to abort.
func (m *Manager) notify(ctx context.Context, reason, email, message string) error {
	if m.cfg.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.NotifyTimeout)
		defer cancel()
	}
	err := m.notifier.Notify(ctx, email, message)
	if err == nil {
		return nil
	}
	m.metrics.NotificationFailed(reason)
	m.logger.WarnContext(ctx, "notification failed", "reason", reason, "email", email, "error", err)
	if !errors.Is(err, apperr.ErrNotificationDelivery) {
		err = apperr.Wrap(apperr.ErrNotificationDelivery, err, "email", email)
	}
	return err
}

func (m *Manager) record(ctx context.Context, userID, action, metadata string) {
	if m.audit != nil {
		m.audit.LogEvent(ctx, userID, action, "session", metadata)
	}
}

func refreshOutcome(err error) string {
	switch apperr.KindOf(err) {
	case "":
		return "ok"
	case apperr.KindConcurrentRefreshConflict:
		return "conflict"
	case apperr.KindTokenExpired, apperr.KindTokenInvalid:
		return "invalid_token"
	case apperr.KindSessionNotFound, apperr.KindSessionNotActive:
		return "no_session"
	case apperr.KindUserBlocked, apperr.KindHasBlockedSessions:
		return "blocked"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
