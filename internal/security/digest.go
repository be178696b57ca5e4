package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Digest returns the SHA-256 of token, hex-encoded (64 chars).
// Sessions store only this value; lookups by access or refresh token go through it.
func Digest(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// DigestEqual performs constant-time comparison of the provided token's digest
// with the stored digest. Empty inputs never match.
func DigestEqual(providedToken, storedDigest string) bool {
	if providedToken == "" || storedDigest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(providedToken)), []byte(storedDigest)) == 1
}
