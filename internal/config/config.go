package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the gateway process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	OAuth OAuthConfig
	Proxy ProxyConfig
	Store StoreConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds how long a stored refresh mapping survives
	// without being redeemed.
	RefreshTokenTTL time.Duration

	// SessionMaxAge is the sliding lifetime of a session row.
	SessionMaxAge time.Duration
}

// OAuthConfig describes the upstream identity provider.
type OAuthConfig struct {
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// ProxyConfig describes the downstream resource API.
type ProxyConfig struct {
	TargetURL  string
	PathPrefix string
	Timeout    time.Duration
}

// StoreConfig selects the backing stores at startup.
// "memory" is for local development and tests; "persistent" uses
// redis (refresh tokens) and postgres (sessions).
type StoreConfig struct {
	Backend string
}

const (
	StoreBackendMemory     = "memory"
	StoreBackendPersistent = "persistent"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Store.Backend = strings.TrimSpace(os.Getenv("STORE_BACKEND"))

	if c.Store.Backend == StoreBackendPersistent {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

		c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
		{
			n, err := mustInt("REDIS_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.Redis.Port = n
		}
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = appendDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = appendDuration(parseErrs, "REFRESH_TOKEN_TTL")
	c.Auth.SessionMaxAge, parseErrs = appendDuration(parseErrs, "SESSION_MAX_AGE")

	c.OAuth.TokenURL = strings.TrimSpace(os.Getenv("OAUTH_TOKEN_URL"))
	c.OAuth.UserInfoURL = strings.TrimSpace(os.Getenv("OAUTH_USERINFO_URL"))
	c.OAuth.ClientID = strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID"))
	c.OAuth.ClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	c.OAuth.RedirectURI = strings.TrimSpace(os.Getenv("OAUTH_REDIRECT_URI"))

	c.Proxy.TargetURL = strings.TrimSpace(os.Getenv("API_TARGET_URL"))
	c.Proxy.PathPrefix = strings.TrimSpace(os.Getenv("API_PATH_PREFIX"))
	c.Proxy.Timeout, parseErrs = appendDuration(parseErrs, "API_PROXY_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Backend == "" {
		// Local-friendly default; production must be explicit.
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND is required in production"))
		} else {
			c.Store.Backend = StoreBackendMemory
		}
	}
	if c.Store.Backend != "" && !isValidStoreBackend(c.Store.Backend) {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, persistent, got %q", c.Store.Backend))
	}

	if c.Store.Backend == StoreBackendPersistent {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}

		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Short-lived internal access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.SessionMaxAge <= 0 {
		c.Auth.SessionMaxAge = 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.OAuth.TokenURL == "" {
		errs = append(errs, errors.New("OAUTH_TOKEN_URL is required"))
	} else if !isValidURL(c.OAuth.TokenURL) {
		errs = append(errs, fmt.Errorf("OAUTH_TOKEN_URL must be an absolute URL, got %q", c.OAuth.TokenURL))
	}
	if c.OAuth.UserInfoURL == "" {
		errs = append(errs, errors.New("OAUTH_USERINFO_URL is required"))
	} else if !isValidURL(c.OAuth.UserInfoURL) {
		errs = append(errs, fmt.Errorf("OAUTH_USERINFO_URL must be an absolute URL, got %q", c.OAuth.UserInfoURL))
	}
	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_ID is required"))
	}

	if c.Proxy.TargetURL == "" {
		errs = append(errs, errors.New("API_TARGET_URL is required"))
	} else if !isValidURL(c.Proxy.TargetURL) {
		errs = append(errs, fmt.Errorf("API_TARGET_URL must be an absolute URL, got %q", c.Proxy.TargetURL))
	}
	if c.Proxy.PathPrefix == "" {
		c.Proxy.PathPrefix = "/api"
	}
	if !strings.HasPrefix(c.Proxy.PathPrefix, "/") {
		errs = append(errs, fmt.Errorf("API_PATH_PREFIX must start with /, got %q", c.Proxy.PathPrefix))
	}
	if c.Proxy.Timeout <= 0 {
		c.Proxy.Timeout = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// appendDuration reads an optional duration env var. Absent means zero
// (a default is applied later); present but malformed joins the
// aggregated parse errors like every other env var.
func appendDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration (e.g. 15m), got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidStoreBackend(v string) bool {
	switch v {
	case StoreBackendMemory, StoreBackendPersistent:
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
