// Package auth issues and validates the JWT bearer tokens used by
// producer services and operators to call the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Dharshni15/job/internal/domain"
)

// ErrInvalidToken is returned for tokens that fail validation for any reason.
var ErrInvalidToken = errors.New("invalid token")

// Config holds authenticator settings.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
	Issuer        string
}

// Claims is the JWT claim set carried by API tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HMAC-signed tokens.
type Authenticator struct {
	config Config
}

// NewAuthenticator creates a JWT authenticator.
func NewAuthenticator(config Config) *Authenticator {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "jobportal"
	}
	return &Authenticator{config: config}
}

// GenerateToken issues a signed token for the given subject and role.
func (a *Authenticator) GenerateToken(subject string, role domain.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its subject and role.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, domain.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	}, jwt.WithIssuer(a.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, domain.Role(claims.Role), nil
}
