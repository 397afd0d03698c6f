package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Postgres is the production Store.
//
// It assumes the following table exists:
//
//	CREATE TABLE sessions (
//	    sid                     TEXT PRIMARY KEY,
//	    user_id                 TEXT NOT NULL,
//	    email                   TEXT NOT NULL,
//	    name                    TEXT NOT NULL,
//	    encrypted_refresh_token TEXT NOT NULL,
//	    expires_at              TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX sessions_user_id_idx ON sessions (user_id);
type Postgres struct {
	db     *sql.DB
	maxAge time.Duration
	clock  func() time.Time
}

func NewPostgres(db *sql.DB, maxAge time.Duration) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Postgres{db: db, maxAge: maxAge, clock: time.Now}, nil
}

func (s *Postgres) Get(ctx context.Context, sid string) (*Session, error) {
	const q = `
SELECT sid, user_id, email, name, encrypted_refresh_token, expires_at
FROM sessions
WHERE sid = $1
`
	var sess Session
	if err := s.db.QueryRowContext(ctx, q, sid).Scan(
		&sess.SID,
		&sess.UserID,
		&sess.Email,
		&sess.Name,
		&sess.EncryptedRefreshToken,
		&sess.ExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	now := s.clock()
	if !sess.ExpiresAt.After(now) {
		// On-read cleanup. The expires_at guard keeps a concurrent Set
		// (which moved the expiry forward) from being wiped out.
		const del = `DELETE FROM sessions WHERE sid = $1 AND expires_at <= $2`
		if _, err := s.db.ExecContext(ctx, del, sid, now); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &sess, nil
}

func (s *Postgres) Set(ctx context.Context, sid string, sess Session) error {
	const q = `
INSERT INTO sessions (sid, user_id, email, name, encrypted_refresh_token, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (sid)
DO UPDATE SET user_id = EXCLUDED.user_id,
              email = EXCLUDED.email,
              name = EXCLUDED.name,
              encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
              expires_at = EXCLUDED.expires_at
`
	expiresAt := s.clock().Add(s.maxAge)
	_, err := s.db.ExecContext(ctx, q, sid, sess.UserID, sess.Email, sess.Name, sess.EncryptedRefreshToken, expiresAt)
	return err
}

func (s *Postgres) Touch(ctx context.Context, sid string) error {
	const q = `UPDATE sessions SET expires_at = $2 WHERE sid = $1`
	_, err := s.db.ExecContext(ctx, q, sid, s.clock().Add(s.maxAge))
	return err
}

func (s *Postgres) Destroy(ctx context.Context, sid string) error {
	const q = `DELETE FROM sessions WHERE sid = $1`
	_, err := s.db.ExecContext(ctx, q, sid)
	return err
}

func (s *Postgres) DestroyAllByUserID(ctx context.Context, userID string) error {
	const q = `DELETE FROM sessions WHERE user_id = $1`
	_, err := s.db.ExecContext(ctx, q, userID)
	return err
}
