package session

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for local development and tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]Session
	maxAge   time.Duration
	// clock is injectable for deterministic expiry tests.
	clock func() time.Time
}

func NewMemory(maxAge time.Duration) *Memory {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Memory{
		sessions: make(map[string]Session),
		maxAge:   maxAge,
		clock:    time.Now,
	}
}

func (s *Memory) Get(_ context.Context, sid string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sid]
	if !ok {
		return nil, nil
	}
	if !sess.ExpiresAt.After(s.clock()) {
		// On-read cleanup: the expired row is gone after this lookup.
		delete(s.sessions, sid)
		return nil, nil
	}
	out := sess
	return &out, nil
}

func (s *Memory) Set(_ context.Context, sid string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.SID = sid
	sess.ExpiresAt = s.clock().Add(s.maxAge)
	s.sessions[sid] = sess
	return nil
}

func (s *Memory) Touch(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sid]
	if !ok {
		return nil
	}
	sess.ExpiresAt = s.clock().Add(s.maxAge)
	s.sessions[sid] = sess
	return nil
}

func (s *Memory) Destroy(_ context.Context, sid string) error {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
	return nil
}

func (s *Memory) DestroyAllByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sid, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// Len reports the number of stored rows, expired or not. Test helper.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
