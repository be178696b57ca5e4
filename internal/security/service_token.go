package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenIssuer mints short-lived HS256 tokens this service presents to other platform services.
type ServiceTokenIssuer struct {
	secret      []byte
	serviceName string
	ttl         time.Duration
	now         func() time.Time
}

// NewServiceTokenIssuer returns an issuer whose tokens carry role "service" and the given service name.
func NewServiceTokenIssuer(secret []byte, serviceName string, ttl time.Duration) *ServiceTokenIssuer {
	return &ServiceTokenIssuer{secret: secret, serviceName: serviceName, ttl: ttl, now: time.Now}
}

// Issue returns a fresh service token.
func (s *ServiceTokenIssuer) Issue() (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   s.serviceName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role:        "service",
		TokenType:   TokenTypeService,
		ServiceName: s.serviceName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
