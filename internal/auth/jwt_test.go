package auth

import (
	"errors"
	"testing"
	"time"

	"collabflow/internal/config"
)

func TestSignAndVerify(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "collabflow",
		JWTAudience:    "collabflow-api",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, expiresAt, err := m.Sign(now, Identity{UserID: "user-1", Email: "a@b.co", Name: "Ada"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected token string")
	}
	if want := now.Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expiresAt)
	}

	claims, err := m.Verify(tok, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.co" || claims.Name != "Ada" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyDistinguishesExpiredFromInvalid(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})

	now := time.Unix(1700000000, 0).UTC()
	tok, _, err := m.Sign(now, Identity{UserID: "u", Email: "e@x.io", Name: "n"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = m.Verify(tok, now.Add(2*time.Minute))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	_, err = m.Verify("garbage.token.value", now)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m1, _ := NewManager(config.AuthConfig{JWTSecret: "secret-1", AccessTokenTTL: time.Minute})
	m2, _ := NewManager(config.AuthConfig{JWTSecret: "secret-2", AccessTokenTTL: time.Minute})

	now := time.Now()
	tok, _, err := m1.Sign(now, Identity{UserID: "u", Email: "e@x.io"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m2.Verify(tok, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{AccessTokenTTL: time.Minute}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}
