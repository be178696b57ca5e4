package security

import "strings"

const bearerPrefix = "bearer "

// BearerToken returns the token of an "Authorization: Bearer <token>" header value.
// The scheme is matched case-insensitively; ok is false when the header is absent, uses another scheme or
// carries an empty token.
func BearerToken(header string) (token string, ok bool) {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token = strings.TrimSpace(v[len(bearerPrefix):])
	return token, token != ""
}
