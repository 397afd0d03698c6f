package refreshstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store for local development and tests.
// The mutex makes Redeem's lookup-and-delete a single step.
type Memory struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

func (s *Memory) GenerateAndStore(_ context.Context, upstreamToken string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tokens[token] = upstreamToken
	s.mu.Unlock()
	return token, nil
}

func (s *Memory) Redeem(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upstream, ok := s.tokens[token]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.tokens, token)
	return upstream, nil
}

func (s *Memory) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}

// Len reports the number of live mappings. Test helper.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
