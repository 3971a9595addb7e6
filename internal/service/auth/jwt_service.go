package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing JWT authentication tokens.
// Tokens carry an opaque subject naming the client they were issued to;
// the API has no user accounts.
type JWTService interface {
	// GenerateToken creates a signed access token for the given subject
	// with the configured lifetime.
	// Returns the token string or an error if token generation fails.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// GenerateTokenWithExpiry creates a signed access token with an
	// explicit expiration time instead of the configured lifetime.
	GenerateTokenWithExpiry(ctx context.Context, subject string, expiresAt time.Time) (string, error)

	// ValidateToken validates the provided token string and extracts the
	// claims. Returns an error if validation fails (expired, invalid
	// signature, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of an accepted token.
type Claims struct {
	// Subject identifies the client the token was issued to.
	Subject string `json:"sub,omitempty"`

	// Standard registered JWT claims
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
