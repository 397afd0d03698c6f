// Package session persists login sessions. Expiry is enforced lazily:
// a read of an expired row deletes it and reports absence; there is no
// background reaper.
package session

import (
	"context"
	"time"
)

// Session is one login. A user may hold several at once (one per device),
// which is what makes DestroyAllByUserID ("log out everywhere") useful.
// EncryptedRefreshToken holds the upstream refresh token at rest; it is
// never sent to the browser.
type Session struct {
	SID                   string
	UserID                string
	Email                 string
	Name                  string
	EncryptedRefreshToken string
	ExpiresAt             time.Time
}

// Store is the session persistence contract. Storage I/O failures are
// surfaced verbatim; the store performs no retries.
type Store interface {
	// Get returns the session, or nil if absent. An expired row is
	// deleted during the read and reported as nil.
	Get(ctx context.Context, sid string) (*Session, error)

	// Set upserts the session with ExpiresAt = now + maxAge.
	Set(ctx context.Context, sid string, s Session) error

	// Touch extends ExpiresAt without altering the session data.
	Touch(ctx context.Context, sid string) error

	// Destroy deletes by id. Idempotent.
	Destroy(ctx context.Context, sid string) error

	// DestroyAllByUserID deletes every session owned by userID.
	DestroyAllByUserID(ctx context.Context, userID string) error
}

const defaultMaxAge = 24 * time.Hour
