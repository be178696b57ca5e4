// Package service orchestrates sign-up with email verification, password login and the administrative
// actions on users. Session state itself is owned by the session lifecycle manager.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"auth-platform/backend/internal/accounts"
	"auth-platform/backend/internal/audit"
	auditdomain "auth-platform/backend/internal/audit/domain"
	"auth-platform/backend/internal/notification"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/policy/engine"
	"auth-platform/backend/internal/registration"
	"auth-platform/backend/internal/security"
	sessiondomain "auth-platform/backend/internal/session/domain"
	userdomain "auth-platform/backend/internal/user/domain"
	userrepo "auth-platform/backend/internal/user/repository"
)

const msgVerificationCodeFormat = "Your verification code: %s"

// Verification attempts allowed per email: a burst of five, then one every twelve seconds.
const (
	verifyBurst    = 5
	verifyInterval = 12 * time.Second
)

// SessionManager is the part of the session lifecycle manager the auth service drives.
type SessionManager interface {
	CreateSession(ctx context.Context, user *userdomain.User) (*sessiondomain.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*sessiondomain.TokenPair, error)
	DeactivateByAccessToken(ctx context.Context, header string) error
	BlockUserSessions(ctx context.Context, user *userdomain.User, admins []*userdomain.User) (int, error)
}

// Authorizer decides administrative actions.
type Authorizer interface {
	Allowed(ctx context.Context, actor engine.Actor, action engine.Action, targetUserID string) (bool, error)
}

// AccountRegistrar receives confirmed registrations.
type AccountRegistrar interface {
	Register(ctx context.Context, reg accounts.Registration) error
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegisterResult tells the caller where the code went and until when it is valid.
type RegisterResult struct {
	Email     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// pendingRegistration is the staged payload. The password is hashed before it is staged.
type pendingRegistration struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	RequestID    string    `json:"request_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// attempts is the verification limiter of one email and when it was last used.
type attempts struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithAccounts enables the account service hand-off after verification.
func WithAccounts(a AccountRegistrar) Option {
	return func(s *AuthService) { s.accounts = a }
}

// WithAudit sets the audit logger.
func WithAudit(a audit.AuditLogger) Option {
	return func(s *AuthService) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithRegistrationTTL sets how long a staged registration lives.
func WithRegistrationTTL(ttl time.Duration) Option {
	return func(s *AuthService) { s.registrationTTL = ttl }
}

// AuthService implements register, verify-email, login, logout, refresh and the admin user actions.
type AuthService struct {
	users    userrepo.Repository
	sessions SessionManager
	staging  *registration.Cache
	notifier notification.Gateway
	hasher   *security.Hasher
	policy   Authorizer

	accounts        AccountRegistrar
	audit           audit.AuditLogger
	logger          *slog.Logger
	now             func() time.Time
	registrationTTL time.Duration

	mu        sync.Mutex
	limiters  map[string]*attempts
	lastPrune time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users userrepo.Repository,
	sessions SessionManager,
	staging *registration.Cache,
	notifier notification.Gateway,
	hasher *security.Hasher,
	policy Authorizer,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:           users,
		sessions:        sessions,
		staging:         staging,
		notifier:        notifier,
		hasher:          hasher,
		policy:          policy,
		logger:          slog.Default(),
		now:             time.Now,
		registrationTTL: registration.DefaultTTL,
		limiters:        make(map[string]*attempts),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register validates the request, stages it with a fresh verification code and sends the code by email.
// No user exists until VerifyEmail succeeds.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "field", "username", "reason", "username is required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.ErrAlreadyExists, "field", "email")
	}
	existing, err = s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.ErrAlreadyExists, "field", "username")
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	expiresAt := s.now().UTC().Add(s.registrationTTL)
	payload, err := json.Marshal(pendingRegistration{
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		RequestID:    uuid.New().String(),
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, oops.Code("REGISTRATION_ENCODE_FAILED").Wrap(err)
	}
	code, err := registration.GenerateCode()
	if err != nil {
		return nil, err
	}
	if err := s.staging.Stage(ctx, email, payload, code, s.registrationTTL); err != nil {
		return nil, oops.Code("REGISTRATION_STAGE_FAILED").With("email", email).Wrap(err)
	}
	if err := s.notifier.Notify(ctx, email, fmt.Sprintf(msgVerificationCodeFormat, code)); err != nil {
		if !errors.Is(err, apperr.ErrNotificationDelivery) {
			err = apperr.Wrap(apperr.ErrNotificationDelivery, err, "email", email)
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "registration staged", "email", email)
	return &RegisterResult{Email: email, ExpiresAt: expiresAt, ExpiresIn: s.registrationTTL}, nil
}

// VerifyEmail confirms a staged registration, creates the user and opens their first session.
// Attempts are rate limited per email so the four-digit code cannot be enumerated. When the user
// cannot be stored for a reason other than a conflict, the registration is staged again with the
// same code until its original expiry.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (*sessiondomain.TokenPair, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if !s.allowAttempt(email) {
		return nil, apperr.New(apperr.ErrRateLimited, "email", email)
	}
	raw, err := s.staging.Confirm(ctx, email, code)
	if err != nil {
		return nil, err
	}
	s.forgetAttempts(email)

	var pending pendingRegistration
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, oops.Code("REGISTRATION_DECODE_FAILED").With("email", email).Wrap(err)
	}
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Username:     pending.Username,
		Email:        pending.Email,
		PasswordHash: pending.PasswordHash,
		Role:         userdomain.RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := user.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, apperr.ErrAlreadyExists) {
			s.restage(ctx, email, raw, code, pending.ExpiresAt)
		}
		return nil, err
	}
	s.record(ctx, user.ID, auditdomain.ActionUserRegistered, "username="+user.Username)

	pair, err := s.sessions.CreateSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if s.accounts != nil {
		err := s.accounts.Register(ctx, accounts.Registration{
			Username:      user.Username,
			Email:         user.Email,
			Password:      user.PasswordHash,
			RequestID:     pending.RequestID,
			EmailVerified: true,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "account hand-off failed", "user_id", user.ID, "request_id", pending.RequestID, "error", err)
		}
	}
	return pair, nil
}

// Login checks username and password and opens a session. Every mismatch is InvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (*sessiondomain.TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.New(apperr.ErrInvalidCredentials)
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.record(ctx, "", auditdomain.ActionLoginFailure, "username="+username)
		return nil, apperr.New(apperr.ErrInvalidCredentials)
	}
	if !s.hasher.Matches(user.PasswordHash, password) {
		s.record(ctx, user.ID, auditdomain.ActionLoginFailure, "username="+username)
		return nil, apperr.New(apperr.ErrInvalidCredentials)
	}
	return s.sessions.CreateSession(ctx, user)
}

// Logout ends the session named by the bearer header.
func (s *AuthService) Logout(ctx context.Context, authorizationHeader string) error {
	return s.sessions.DeactivateByAccessToken(ctx, authorizationHeader)
}

// Refresh rotates the session named by refreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*sessiondomain.TokenPair, error) {
	return s.sessions.RefreshAccessToken(ctx, refreshToken)
}

// BlockUser freezes the account of username and blocks its active sessions, notifying the user and admins.
// Returns the number of sessions blocked.
func (s *AuthService) BlockUser(ctx context.Context, actor engine.Actor, username string) (int, error) {
	target, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, apperr.New(apperr.ErrNotFound, "username", username)
	}
	if err := s.authorize(ctx, actor, engine.ActionBlockUser, target.ID); err != nil {
		return 0, err
	}
	if err := s.users.SetBlocked(ctx, target.ID, true); err != nil {
		return 0, err
	}
	target.IsBlocked = true
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return 0, err
	}
	return s.sessions.BlockUserSessions(ctx, target, admins)
}

// DeleteUser removes userID together with all of its sessions. Returns the number of sessions removed.
func (s *AuthService) DeleteUser(ctx context.Context, actor engine.Actor, userID string) (int, error) {
	if err := s.authorize(ctx, actor, engine.ActionDeleteUser, userID); err != nil {
		return 0, err
	}
	n, err := s.users.Delete(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, userID, auditdomain.ActionUserDeleted, "deleted_by="+actor.UserID)
	s.logger.InfoContext(ctx, "user deleted", "user_id", userID, "sessions", n)
	return n, nil
}

func (s *AuthService) authorize(ctx context.Context, actor engine.Actor, action engine.Action, targetUserID string) error {
	ok, err := s.policy.Allowed(ctx, actor, action, targetUserID)
	if err != nil {
		return oops.Code("POLICY_EVAL_FAILED").With("action", string(action)).Wrap(err)
	}
	if !ok {
		return apperr.New(apperr.ErrForbidden, "action", string(action), "actor_id", actor.UserID, "target_id", targetUserID)
	}
	return nil
}

// restage puts a confirmed registration back so the same code works again.
func (s *AuthService) restage(ctx context.Context, email string, payload []byte, code string, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.staging.Stage(ctx, email, payload, code, ttl); err != nil {
		s.logger.ErrorContext(ctx, "registration restage failed", "email", email, "error", err)
	}
}

// allowAttempt spends one verification attempt for email. Limiters idle for a registration TTL are
// dropped, at most once per TTL.
func (s *AuthService) allowAttempt(email string) bool {
	now := s.now()
	s.mu.Lock()
	if now.Sub(s.lastPrune) >= s.registrationTTL {
		for k, a := range s.limiters {
			if now.Sub(a.seen) >= s.registrationTTL {
				delete(s.limiters, k)
			}
		}
		s.lastPrune = now
	}
	a, ok := s.limiters[email]
	if !ok {
		a = &attempts{limiter: rate.NewLimiter(rate.Every(verifyInterval), verifyBurst)}
		s.limiters[email] = a
	}
	a.seen = now
	s.mu.Unlock()
	return a.limiter.AllowN(now, 1)
}

func (s *AuthService) forgetAttempts(email string) {
	s.mu.Lock()
	delete(s.limiters, email)
	s.mu.Unlock()
}

func (s *AuthService) record(ctx context.Context, userID, action, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, "user", metadata)
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return apperr.New(apperr.ErrInvalidInput, "field", "email", "reason", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.New(apperr.ErrInvalidInput, "field", "email", "reason", "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	reject := func(reason string) error {
		return apperr.New(apperr.ErrInvalidInput, "field", "password", "reason", reason)
	}
	if len(password) < 12 {
		return reject("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return reject("password must contain at least one uppercase letter")
	case !hasLower:
		return reject("password must contain at least one lowercase letter")
	case !hasNumber:
		return reject("password must contain at least one number")
	case !hasSymbol:
		return reject("password must contain at least one symbol")
	}
	return nil
}
