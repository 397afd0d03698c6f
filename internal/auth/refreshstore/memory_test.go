package refreshstore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemory_RedeemIsSingleUse(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	token, err := s.GenerateAndStore(ctx, "upstream-1")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if token == "" {
		t.Fatalf("expected opaque token")
	}

	upstream, err := s.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if upstream != "upstream-1" {
		t.Fatalf("expected upstream-1, got %q", upstream)
	}

	// Rotation discipline: the old value must never validate again.
	if _, err := s.Redeem(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second redeem, got %v", err)
	}
}

func TestMemory_ConcurrentRedeemSingleWinner(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	token, err := s.GenerateAndStore(ctx, "upstream-1")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Redeem(ctx, token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 successful redemption, got %d", wins)
	}
}

func TestMemory_RevokeIsIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	token, _ := s.GenerateAndStore(ctx, "upstream-1")

	if err := s.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Revoke(ctx, token); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := s.Redeem(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestMemory_TokensAreUnique(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	a, _ := s.GenerateAndStore(ctx, "u1")
	b, _ := s.GenerateAndStore(ctx, "u2")
	if a == b {
		t.Fatalf("expected distinct opaque tokens")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 mappings, got %d", s.Len())
	}
}
