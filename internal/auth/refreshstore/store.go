// Package refreshstore maps opaque internal refresh tokens to upstream
// refresh tokens. Tokens are single-use: Redeem looks up and deletes the
// mapping as one atomic step, so a stolen or duplicated token can never be
// replayed after its first redemption.
package refreshstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Redeem when the token does not resolve,
// either because it never existed or because it was already redeemed.
var ErrNotFound = errors.New("refresh token not found")

// Store is the refresh-token mapping contract.
type Store interface {
	// GenerateAndStore creates a fresh opaque token, stores the mapping
	// to upstreamToken and returns the new token.
	GenerateAndStore(ctx context.Context, upstreamToken string) (string, error)

	// Redeem resolves token to its upstream refresh token and deletes the
	// mapping atomically. Two concurrent redemptions of the same token
	// must not both succeed.
	Redeem(ctx context.Context, token string) (string, error)

	// Revoke deletes the mapping if present. Idempotent.
	Revoke(ctx context.Context, token string) error
}

const tokenBytes = 32

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("refresh token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
