package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"auth-platform/backend/internal/platform/apperr"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testClaims(tt TokenType) UserClaims {
	return UserClaims{Role: "USER", Email: "alice@x.com", UserID: "u-1", TokenType: tt}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	iss := NewTestIssuer(fixedClock)

	token, err := iss.Issue("alice", testClaims(TokenTypeAccess), 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if v := iss.Verify(token); !v.Valid || v.Expired {
		t.Fatalf("Verify = %+v, want valid and not expired", v)
	}

	want := map[string]string{
		"sub":        "alice",
		"role":       "USER",
		"email":      "alice@x.com",
		"user_id":    "u-1",
		"token_type": "access",
	}
	for name, w := range want {
		got, err := iss.ExtractClaim(token, name)
		if err != nil {
			t.Fatalf("ExtractClaim(%q): %v", name, err)
		}
		if got != w {
			t.Errorf("claim %q = %v, want %q", name, got, w)
		}
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("exp = %v, want now+15m", claims.ExpiresAt.Time)
	}
	if !claims.IssuedAt.Time.Equal(testNow) {
		t.Errorf("iat = %v, want now", claims.IssuedAt.Time)
	}
}

func TestTokenIssuer_AccessAndRefreshDiffer(t *testing.T) {
	iss := NewTestIssuer(fixedClock)
	access, err := iss.Issue("alice", testClaims(TokenTypeAccess), time.Minute)
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, err := iss.Issue("alice", testClaims(TokenTypeRefresh), time.Hour)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	again, err := iss.Issue("alice", testClaims(TokenTypeRefresh), time.Hour)
	if err != nil {
		t.Fatalf("Issue refresh again: %v", err)
	}
	if access == refresh || refresh == again {
		t.Fatal("tokens issued in the same second must differ")
	}
	if Digest(refresh) == Digest(again) {
		t.Fatal("digests of distinct tokens must differ")
	}
	tt, err := iss.ExtractClaim(refresh, "token_type")
	if err != nil || tt != "refresh" {
		t.Errorf("token_type = %v (%v), want refresh", tt, err)
	}
}

func TestTokenIssuer_ZeroTTLIsExpiredButReadable(t *testing.T) {
	iss := NewTestIssuer(fixedClock)
	token, err := iss.Issue("alice", testClaims(TokenTypeAccess), 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if v := iss.Verify(token); !v.Valid || !v.Expired {
		t.Fatalf("Verify = %+v, want valid signature and expired", v)
	}
	got, err := iss.ExtractClaim(token, "email")
	if err != nil {
		t.Fatalf("ExtractClaim on expired token: %v", err)
	}
	if got != "alice@x.com" {
		t.Errorf("email = %v, want alice@x.com", got)
	}
	if _, err := iss.Parse(token); !errors.Is(err, apperr.ErrTokenExpired) {
		t.Errorf("Parse expired: want ErrTokenExpired, got %v", err)
	}
	claims, err := iss.ParseAllowExpired(token)
	if err != nil {
		t.Fatalf("ParseAllowExpired: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
}

func TestTokenIssuer_ExpiresWhenClockAdvances(t *testing.T) {
	now := testNow
	iss := NewTestIssuer(func() time.Time { return now })
	token, err := iss.Issue("alice", testClaims(TokenTypeAccess), time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(59 * time.Second)
	if v := iss.Verify(token); v.Expired {
		t.Fatal("token should still be live one second before exp")
	}
	now = now.Add(time.Second)
	if v := iss.Verify(token); !v.Expired {
		t.Fatal("token should be expired at exp")
	}
}

func TestTokenIssuer_InvalidTokens(t *testing.T) {
	iss := NewTestIssuer(fixedClock)
	other := NewHMACIssuer([]byte("another-secret-another-secret-xx!"), WithClock(fixedClock))

	token, err := iss.Issue("alice", testClaims(TokenTypeAccess), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign, err := other.Issue("alice", testClaims(TokenTypeAccess), time.Hour)
	if err != nil {
		t.Fatalf("Issue foreign: %v", err)
	}
	parts := strings.Split(token, ".")
	foreignParts := strings.Split(foreign, ".")
	spliced := parts[0] + "." + parts[1] + "." + foreignParts[2]

	for name, tok := range map[string]string{
		"garbage":       "invalid-token",
		"empty":         "",
		"foreign key":   foreign,
		"spliced sig":   spliced,
		"two segments":  parts[0] + "." + parts[1],
		"tampered body": parts[0] + "." + foreignParts[1] + "x." + parts[2],
	} {
		t.Run(name, func(t *testing.T) {
			if v := iss.Verify(tok); v.Valid || v.Expired {
				t.Errorf("Verify = %+v, want invalid", v)
			}
			if _, err := iss.ExtractClaim(tok, "sub"); !errors.Is(err, ErrClaimExtraction) {
				t.Errorf("ExtractClaim: want ErrClaimExtraction, got %v", err)
			}
			if _, err := iss.Parse(tok); !errors.Is(err, apperr.ErrTokenInvalid) {
				t.Errorf("Parse: want ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func TestTokenIssuer_MissingClaim(t *testing.T) {
	iss := NewTestIssuer(fixedClock)
	token, err := iss.Issue("alice", UserClaims{Role: "USER", TokenType: TokenTypeAccess}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := iss.ExtractClaim(token, "email"); !errors.Is(err, ErrClaimExtraction) {
		t.Errorf("ExtractClaim of omitted email: want ErrClaimExtraction, got %v", err)
	}
}

func TestKeyPairIssuer_RS256(t *testing.T) {
	iss, err := NewTestKeyPairIssuer()
	if err != nil {
		t.Fatalf("NewTestKeyPairIssuer: %v", err)
	}
	token, err := iss.Issue("alice", testClaims(TokenTypeAccess), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if v := iss.Verify(token); !v.Valid || v.Expired {
		t.Fatalf("Verify = %+v, want valid", v)
	}

	hmacToken, err := NewTestIssuer(time.Now).Issue("alice", testClaims(TokenTypeAccess), time.Hour)
	if err != nil {
		t.Fatalf("Issue HS256: %v", err)
	}
	if v := iss.Verify(hmacToken); v.Valid {
		t.Error("RS256 issuer must reject an HS256 token")
	}
}

func TestNewIssuerFromConfig(t *testing.T) {
	if _, err := NewIssuerFromConfig("", "", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("no key material: want ErrInvalidKey, got %v", err)
	}
	iss, err := NewIssuerFromConfig(TestHMACSecret, "", "")
	if err != nil {
		t.Fatalf("HMAC: %v", err)
	}
	if iss.method.Alg() != "HS256" {
		t.Errorf("alg = %s, want HS256", iss.method.Alg())
	}
	iss, err = NewIssuerFromConfig("", testPrivateKeyPEM, testPublicKeyPEM)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	if iss.method.Alg() != "RS256" {
		t.Errorf("alg = %s, want RS256", iss.method.Alg())
	}
}

func TestServiceTokenIssuer(t *testing.T) {
	s := NewServiceTokenIssuer([]byte(TestHMACSecret), "auth-service", 5*time.Minute)
	s.now = fixedClock
	token, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Same secret, so the user issuer can read it back.
	verifier := NewTestIssuer(fixedClock)
	claims, err := verifier.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Role != "service" || claims.ServiceName != "auth-service" || claims.TokenType != TokenTypeService {
		t.Errorf("claims = %+v", claims)
	}
}
