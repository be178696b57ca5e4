package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"auth-platform/backend/internal/platform/apperr"
)

// TokenType distinguishes the credentials minted by the issuers in this package.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeService TokenType = "service_token"
)

// ErrClaimExtraction is returned when a claim cannot be read from a token.
var ErrClaimExtraction = errors.New("claim extraction failed")

// UserClaims are the custom claims carried by access and refresh tokens.
type UserClaims struct {
	Role      string
	Email     string
	UserID    string
	TokenType TokenType
}

// Claims is the JWT body for every token this service signs.
type Claims struct {
	jwt.RegisteredClaims
	Role        string    `json:"role"`
	Email       string    `json:"email,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	TokenType   TokenType `json:"token_type"`
	ServiceName string    `json:"service_name,omitempty"`
}

// Verification is the result of a signature and expiry check.
// Expired implies the signature was valid; an invalid token reports neither.
type Verification struct {
	Valid   bool
	Expired bool
}

// Option configures a TokenIssuer.
type Option func(*TokenIssuer)

// WithClock overrides the time source used for iat/exp and for validation.
func WithClock(now func() time.Time) Option {
	return func(i *TokenIssuer) { i.now = now }
}

// TokenIssuer signs and verifies user tokens. It holds no mutable state after construction.
type TokenIssuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

// NewHMACIssuer returns an HS256 issuer keyed by secret.
func NewHMACIssuer(secret []byte, opts ...Option) *TokenIssuer {
	i := &TokenIssuer{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// NewKeyPairIssuer returns an RS256 or ES256 issuer depending on the private key type.
func NewKeyPairIssuer(privateKey crypto.Signer, publicKey crypto.PublicKey, opts ...Option) (*TokenIssuer, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrInvalidKey
	}
	i := &TokenIssuer{method: method, signKey: privateKey, verifyKey: publicKey, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Issue signs a token for subject with the given claims and lifetime. A zero ttl yields a token that is
// already expired. Each token carries a random jti so two tokens issued in the same second differ.
func (i *TokenIssuer) Issue(subject string, c UserClaims, ttl time.Duration) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      c.Role,
		Email:     c.Email,
		UserID:    c.UserID,
		TokenType: c.TokenType,
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
}

// Verify checks the signature and expiry of token.
func (i *TokenIssuer) Verify(token string) Verification {
	_, err := i.parse(token, true)
	switch {
	case err == nil:
		return Verification{Valid: true}
	case errors.Is(err, jwt.ErrTokenExpired):
		return Verification{Valid: true, Expired: true}
	default:
		return Verification{}
	}
}

// Parse validates token fully and returns its claims. Failures wrap apperr.ErrTokenExpired or apperr.ErrTokenInvalid.
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	claims, err := i.parse(token, true)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, apperr.New(apperr.ErrTokenExpired)
	}
	return nil, apperr.New(apperr.ErrTokenInvalid, "reason", err.Error())
}

// ParseAllowExpired checks the signature only; an expired token still yields its claims.
func (i *TokenIssuer) ParseAllowExpired(token string) (*Claims, error) {
	claims, err := i.parse(token, false)
	if err != nil {
		return nil, apperr.New(apperr.ErrTokenInvalid, "reason", err.Error())
	}
	return claims, nil
}

// ExtractClaim returns the named claim of a correctly signed token, expired or not.
func (i *TokenIssuer) ExtractClaim(token, name string) (any, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, mc, i.keyFunc,
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClaimExtraction, err)
	}
	v, ok := mc[name]
	if !ok {
		return nil, fmt.Errorf("%w: claim %q missing", ErrClaimExtraction, name)
	}
	return v, nil
}

func (i *TokenIssuer) parse(token string, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if validateClaims {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, i.keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func (i *TokenIssuer) keyFunc(*jwt.Token) (any, error) {
	return i.verifyKey, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
