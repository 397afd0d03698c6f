package config

import (
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Auth:  AuthConfig{JWTSecret: "secret"},
		OAuth: OAuthConfig{TokenURL: "https://idp.example.com/token", UserInfoURL: "https://idp.example.com/userinfo", ClientID: "client"},
		Proxy: ProxyConfig{TargetURL: "http://localhost:4000"},
		Store: StoreConfig{Backend: StoreBackendMemory},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MemoryBackendSkipsDBAndRedis(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_PersistentBackendRequiresDBAndRedis(t *testing.T) {
	c := validBase()
	c.Store.Backend = StoreBackendPersistent
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for persistent backend without DB/Redis")
	}
}

func TestValidate_ProductionRequiresStoreBackend(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "collabflow"
	c.Auth.JWTAudience = "collabflow-api"
	c.Store.Backend = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without STORE_BACKEND")
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access TTL default, got %v", c.Auth.AccessTokenTTL)
	}
	if c.Auth.SessionMaxAge != 24*time.Hour {
		t.Fatalf("expected session max age default, got %v", c.Auth.SessionMaxAge)
	}
	if c.Proxy.PathPrefix != "/api" {
		t.Fatalf("expected /api prefix default, got %q", c.Proxy.PathPrefix)
	}
	if c.Proxy.Timeout != 30*time.Second {
		t.Fatalf("expected proxy timeout default, got %v", c.Proxy.Timeout)
	}
}

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("STORE_BACKEND", StoreBackendMemory)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OAUTH_TOKEN_URL", "https://idp.example.com/token")
	t.Setenv("OAUTH_USERINFO_URL", "https://idp.example.com/userinfo")
	t.Setenv("OAUTH_CLIENT_ID", "client")
	t.Setenv("API_TARGET_URL", "http://localhost:4000")
}

func TestLoad_ValidEnv(t *testing.T) {
	setValidEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access TTL default, got %v", c.Auth.AccessTokenTTL)
	}
}

func TestLoad_RejectsMalformedDuration(t *testing.T) {
	setValidEnv(t)
	t.Setenv("JWT_ACCESS_TTL", "15min")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for malformed JWT_ACCESS_TTL")
	}
	if !strings.Contains(err.Error(), "JWT_ACCESS_TTL") {
		t.Fatalf("error should name the offending var, got %v", err)
	}
}

func TestValidate_RejectsRelativeTargetURL(t *testing.T) {
	c := validBase()
	c.Proxy.TargetURL = "/not-absolute"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for relative API_TARGET_URL")
	}
}
