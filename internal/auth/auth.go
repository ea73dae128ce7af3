// Package auth handles password hashing and the JWT credentials carried by
// both HTTP requests and socket handshakes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/devroom-ai/devroom/internal/store"
)

// Credential errors surfaced to callers.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenBlacklisted = errors.New("token has been revoked")
)

// Claims are the JWT claims for a user credential.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Service issues and verifies credentials.
type Service struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service backed by the given store and secret.
func NewService(s *store.Store, secret []byte, ttl time.Duration) *Service {
	return &Service{store: s, secret: secret, ttl: ttl}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken creates a signed JWT for the given user.
func (s *Service) IssueToken(userID, email string) (string, time.Time, error) {
	exp := time.Now().Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken parses and validates a credential, rejecting blacklisted
// tokens, and returns its claims.
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	blacklisted, err := s.store.IsTokenBlacklisted(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, ErrTokenBlacklisted
	}

	return claims, nil
}

// RevokeToken blacklists a credential until its natural expiry.
func (s *Service) RevokeToken(ctx context.Context, tokenString string) error {
	// Best effort at the real expiry; fall back to the configured TTL for
	// tokens we can't parse (they're useless anyway, but keep them listed).
	expiresAt := time.Now().Add(s.ttl)
	if claims, err := s.VerifyToken(ctx, tokenString); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return s.store.BlacklistToken(ctx, tokenString, expiresAt)
}
