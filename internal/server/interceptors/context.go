package interceptors

import "context"

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the caller resolved from a valid access token of an ACTIVE session.
type Principal struct {
	UserID      string
	Username    string
	Role        string
	Email       string
	AccessToken string
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal set by the auth interceptor and true, or a zero value and false.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// GetUserID returns the authenticated user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}
