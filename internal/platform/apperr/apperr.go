// Package apperr defines the error taxonomy shared by the session, token and registration services.
// Services wrap these sentinels with oops codes; callers branch with errors.Is or KindOf.
package apperr

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"
	"google.golang.org/grpc/codes"
)

// Kind names a class of failure. Its value is also the oops code attached to wrapped errors.
type Kind string

const (
	KindUnknown                   Kind = "UNKNOWN"
	KindInvalidCredentials        Kind = "INVALID_CREDENTIALS"
	KindAlreadyExists             Kind = "ALREADY_EXISTS"
	KindTokenExpired              Kind = "TOKEN_EXPIRED"
	KindTokenInvalid              Kind = "TOKEN_INVALID"
	KindInvalidHeader             Kind = "INVALID_HEADER"
	KindSessionNotFound           Kind = "SESSION_NOT_FOUND"
	KindSessionNotActive          Kind = "SESSION_NOT_ACTIVE"
	KindUserBlocked               Kind = "USER_BLOCKED"
	KindHasBlockedSessions        Kind = "HAS_BLOCKED_SESSIONS"
	KindNoActiveSession           Kind = "NO_ACTIVE_SESSION"
	KindConcurrentRefreshConflict Kind = "CONCURRENT_REFRESH_CONFLICT"
	KindRegistrationExpired       Kind = "REGISTRATION_EXPIRED_OR_INVALID"
	KindRegistrationCodeMismatch  Kind = "REGISTRATION_CODE_MISMATCH"
	KindNotificationDelivery      Kind = "NOTIFICATION_DELIVERY"
	KindForbidden                 Kind = "FORBIDDEN"
	KindRateLimited               Kind = "RATE_LIMITED"
	KindNotFound                  Kind = "NOT_FOUND"
	KindTimeout                   Kind = "TIMEOUT"
	KindInvalidInput              Kind = "INVALID_INPUT"
)

// Sentinel errors, one per Kind.
var (
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrAlreadyExists             = errors.New("already exists")
	ErrTokenExpired              = errors.New("token expired")
	ErrTokenInvalid              = errors.New("invalid token")
	ErrInvalidHeader             = errors.New("missing or malformed bearer header")
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionNotActive          = errors.New("session is not active")
	ErrUserBlocked               = errors.New("user is blocked")
	ErrHasBlockedSessions        = errors.New("user has blocked sessions")
	ErrNoActiveSession           = errors.New("no active session")
	ErrConcurrentRefreshConflict = errors.New("session was refreshed concurrently")
	ErrRegistrationExpired       = errors.New("verification code expired or email is invalid")
	ErrRegistrationCodeMismatch  = errors.New("invalid verification code")
	ErrNotificationDelivery      = errors.New("notification delivery failed")
	ErrForbidden                 = errors.New("forbidden")
	ErrRateLimited               = errors.New("too many attempts")
	ErrNotFound                  = errors.New("not found")
	ErrInvalidInput              = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenInvalid, KindTokenInvalid},
	{ErrInvalidHeader, KindInvalidHeader},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrSessionNotActive, KindSessionNotActive},
	{ErrUserBlocked, KindUserBlocked},
	{ErrHasBlockedSessions, KindHasBlockedSessions},
	{ErrNoActiveSession, KindNoActiveSession},
	{ErrConcurrentRefreshConflict, KindConcurrentRefreshConflict},
	{ErrRegistrationExpired, KindRegistrationExpired},
	{ErrRegistrationCodeMismatch, KindRegistrationCodeMismatch},
	{ErrNotificationDelivery, KindNotificationDelivery},
	{ErrForbidden, KindForbidden},
	{ErrRateLimited, KindRateLimited},
	{ErrNotFound, KindNotFound},
	{ErrInvalidInput, KindInvalidInput},
	{context.DeadlineExceeded, KindTimeout},
}

// New wraps sentinel with the oops code of its kind. kv is a flat list of context key/value pairs.
func New(sentinel error, kv ...any) error {
	b := oops.Code(string(KindOf(sentinel)))
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			b = b.With(k, kv[i+1])
		}
	}
	return b.Wrap(sentinel)
}

// Wrap is New for failures with an underlying cause; both sentinel and cause stay visible to errors.Is.
func Wrap(sentinel, cause error, kv ...any) error {
	b := oops.Code(string(KindOf(sentinel)))
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			b = b.With(k, kv[i+1])
		}
	}
	return b.Wrap(fmt.Errorf("%w: %w", sentinel, cause))
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConcurrentRefreshConflict, KindNotificationDelivery:
		return true
	}
	return false
}

// GRPCCode maps err to the status code used at the transport edge.
// Token and session failures are Unauthenticated (HTTP 401); rule violations are 400-class.
func GRPCCode(err error) codes.Code {
	switch KindOf(err) {
	case "":
		return codes.OK
	case KindTokenExpired, KindTokenInvalid, KindSessionNotActive:
		return codes.Unauthenticated
	case KindInvalidHeader, KindForbidden:
		return codes.PermissionDenied
	case KindInvalidCredentials, KindSessionNotFound, KindUserBlocked, KindHasBlockedSessions,
		KindNoActiveSession, KindRegistrationExpired, KindRegistrationCodeMismatch, KindInvalidInput:
		return codes.InvalidArgument
	case KindAlreadyExists:
		return codes.AlreadyExists
	case KindConcurrentRefreshConflict:
		return codes.Aborted
	case KindRateLimited:
		return codes.ResourceExhausted
	case KindNotFound:
		return codes.NotFound
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindNotificationDelivery:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
