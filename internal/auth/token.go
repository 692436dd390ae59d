// Package auth issues and checks the service tokens collaborators present on
// the core's HTTP endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "collegecue-notify"

// Claims represents the JWT claims of a service token
type Claims struct {
	jwt.RegisteredClaims
	Service string `json:"svc"`
}

// TokenService handles JWT creation and validation
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(signingKey string, ttl time.Duration) (*TokenService, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		signingKey: []byte(signingKey),
		ttl:        ttl,
	}, nil
}

// Issue creates a token for the named collaborator service
func (s *TokenService) Issue(service string) (string, time.Time, error) {
	if service == "" {
		return "", time.Time{}, errors.New("service name required")
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		Service: service,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a service token
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.Service == "" {
		return nil, errors.New("token has no service")
	}

	return claims, nil
}
