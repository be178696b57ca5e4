// Package registration stages unconfirmed sign-ups with their verification codes until the code is confirmed
// or the entries expire.
package registration

import (
	"context"
	"time"

	"auth-platform/backend/internal/platform/apperr"
)

const (
	payloadKeyPrefix = "pending_registration:"
	codeKeyPrefix    = "verification_code:"
)

// DefaultTTL is how long a pending registration and its code live.
const DefaultTTL = 5 * time.Minute

// Cache holds pending registrations keyed by email. It never touches durable user storage.
type Cache struct {
	store Store
}

// NewCache returns a Cache over store.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

func payloadKey(email string) string { return payloadKeyPrefix + email }
func codeKey(email string) string    { return codeKeyPrefix + email }

// Stage writes payload and code for email, each with ttl. A second Stage for the same email replaces both.
// Both writes complete before Stage returns so callers may notify afterwards.
func (c *Cache) Stage(ctx context.Context, email string, payload []byte, code string, ttl time.Duration) error {
	if err := c.store.Set(ctx, payloadKey(email), string(payload), ttl); err != nil {
		return err
	}
	return c.store.Set(ctx, codeKey(email), code, ttl)
}

// Confirm returns the staged payload when code matches and consumes both entries.
// A missing entry fails ErrRegistrationExpired; a wrong code fails ErrRegistrationCodeMismatch and leaves the
// entries in place. Of concurrent matching confirms only one succeeds; the rest see ErrRegistrationExpired.
func (c *Cache) Confirm(ctx context.Context, email, code string) ([]byte, error) {
	payload, ok, err := c.store.Get(ctx, payloadKey(email))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.ErrRegistrationExpired, "email", email)
	}
	staged, ok, err := c.store.Get(ctx, codeKey(email))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.ErrRegistrationExpired, "email", email)
	}
	if !CodeEqual(code, staged) {
		return nil, apperr.New(apperr.ErrRegistrationCodeMismatch, "email", email)
	}

	won, err := c.store.Delete(ctx, codeKey(email))
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperr.New(apperr.ErrRegistrationExpired, "email", email)
	}
	if _, err := c.store.Delete(ctx, payloadKey(email)); err != nil {
		return nil, err
	}
	return []byte(payload), nil
}
