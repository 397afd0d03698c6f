// Package tokenclient keeps a caller's internal access token fresh when
// talking to the gateway. It refreshes proactively shortly before expiry
// and reactively on a 401, coordinating concurrent callers so that any
// burst of 401s produces exactly one refresh call.
package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout bounds every call the client makes.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultRefreshLead is how long before expiry the proactive refresh fires.
	DefaultRefreshLead = 5 * time.Minute

	refreshKey = "refresh"

	// The gateway's double-submit pair: it issues the cookie, we mirror
	// its value into the header on every mutating call.
	csrfCookieName = "collabflow.csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// User is the profile carried in client state.
type User struct {
	ID    string `json:"user_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// State is the durable client token state. The refresh token itself lives
// in the cookie jar, never here.
type State struct {
	AccessToken string
	ExpiresAt   time.Time
	User        User
}

// StateStore persists State across restarts. The in-memory implementation
// suffices for a single process; callers may supply a durable one.
type StateStore interface {
	Load() (State, bool)
	Save(State)
	Clear()
}

type memoryStateStore struct {
	mu    sync.Mutex
	state State
	ok    bool
}

func (s *memoryStateStore) Load() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.ok
}

func (s *memoryStateStore) Save(st State) {
	s.mu.Lock()
	s.state, s.ok = st, true
	s.mu.Unlock()
}

func (s *memoryStateStore) Clear() {
	s.mu.Lock()
	s.state, s.ok = State{}, false
	s.mu.Unlock()
}

// Client coordinates token lifecycle against one gateway.
type Client struct {
	baseURL    string
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	store      StateStore
	lead       time.Duration
	onLogout   func()

	// exempt paths are expected to 401 for anonymous callers (the
	// "who am I" check) and never trigger the refresh flow.
	exempt map[string]bool

	// refreshGroup deduplicates concurrent refreshes: late arrivals join
	// the in-flight call instead of starting another.
	refreshGroup singleflight.Group

	mu    sync.Mutex
	timer *time.Timer
}

// Option configures the client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithStateStore(s StateStore) Option {
	return func(c *Client) { c.store = s }
}

// WithRefreshLead overrides how long before expiry the proactive refresh runs.
func WithRefreshLead(d time.Duration) Option {
	return func(c *Client) { c.lead = d }
}

// WithLogoutHandler registers a callback fired when a refresh failure
// forces a logout.
func WithLogoutHandler(fn func()) Option {
	return func(c *Client) { c.onLogout = fn }
}

// WithExemptPaths marks request paths that never trigger the refresh flow.
func WithExemptPaths(paths ...string) Option {
	return func(c *Client) {
		for _, p := range paths {
			c.exempt[p] = true
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		base:       base,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout, Jar: jar},
		logger:     slog.Default(),
		store:      &memoryStateStore{},
		lead:       DefaultRefreshLead,
		exempt:     map[string]bool{"/auth/me": true},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"internal_access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Login exchanges an authorization code for tokens and starts the
// proactive refresh cycle. The refresh cookie lands in the jar.
func (c *Client) Login(ctx context.Context, code, codeVerifier string) (State, error) {
	payload, _ := json.Marshal(map[string]string{"code": code, "codeVerifier": codeVerifier})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(payload))
	if err != nil {
		return State{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.attachCSRF(req); err != nil {
		return State{}, err
	}

	state, err := c.tokenCall(req)
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// Logout revokes the session, cancels the proactive timer and clears state.
func (c *Client) Logout(ctx context.Context) error {
	c.cancelTimer()
	c.store.Clear()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	if err := c.attachCSRF(req); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// State reports the current token state.
func (c *Client) State() (State, bool) {
	return c.store.Load()
}

// csrfFromJar returns the gateway-issued CSRF token, if any.
func (c *Client) csrfFromJar() string {
	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		if ck.Name == csrfCookieName {
			return ck.Value
		}
	}
	return ""
}

// attachCSRF mirrors the CSRF cookie into the request header. The gateway
// rejects mutating calls without the pair, so when the jar holds no cookie
// yet a plain GET is issued first to obtain one.
func (c *Client) attachCSRF(req *http.Request) error {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	token := c.csrfFromJar()
	if token == "" {
		bootstrap, err := http.NewRequestWithContext(req.Context(), http.MethodGet, c.baseURL+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(bootstrap)
		if err != nil {
			return fmt.Errorf("csrf bootstrap: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		token = c.csrfFromJar()
	}
	if token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	return nil
}

// Do sends req with the current access token attached. On a 401 it joins
// the (single) in-flight refresh, then retries the request once with the
// new token. A request that 401s after its retry is returned as-is; it is
// never queued again.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if state, ok := c.store.Load(); ok {
		req.Header.Set("Authorization", "Bearer "+state.AccessToken)
	}
	if err := c.attachCSRF(req); err != nil {
		return nil, err
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.exempt[req.URL.Path] {
		return resp, nil
	}

	// Reactive refresh: every caller landing here while a refresh is in
	// flight observes that refresh's outcome, not its own attempt.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	state, err := c.refresh(req.Context())
	if err != nil {
		return nil, fmt.Errorf("token refresh after 401: %w", err)
	}

	retry := req.Clone(req.Context())
	if body != nil {
		retry.Body = io.NopCloser(bytes.NewReader(body))
		retry.ContentLength = int64(len(body))
	}
	retry.Header.Set("Authorization", "Bearer "+state.AccessToken)
	return c.httpClient.Do(retry)
}

// refresh performs the single-flight refresh call.
func (c *Client) refresh(ctx context.Context) (State, error) {
	v, err, _ := c.refreshGroup.Do(refreshKey, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
		if err != nil {
			return nil, err
		}
		if err := c.attachCSRF(req); err != nil {
			return nil, err
		}
		state, err := c.tokenCall(req)
		if err != nil {
			c.forceLogout()
			return nil, err
		}
		return state, nil
	})
	if err != nil {
		return State{}, err
	}
	return v.(State), nil
}

// tokenCall runs a login or refresh request and installs the result.
func (c *Client) tokenCall(req *http.Request) (State, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return State{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return State{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return State{}, fmt.Errorf("token response decode: %w", err)
	}
	if tr.AccessToken == "" {
		return State{}, fmt.Errorf("token response missing internal_access_token")
	}

	state := State{
		AccessToken: tr.AccessToken,
		ExpiresAt:   time.Unix(tr.ExpiresAt, 0),
	}
	c.store.Save(state)
	c.scheduleRefresh(time.Duration(tr.ExpiresIn) * time.Second)
	return state, nil
}

// scheduleRefresh arms the proactive timer at expiresIn - lead.
func (c *Client) scheduleRefresh(expiresIn time.Duration) {
	delay := expiresIn - c.lead
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		if _, err := c.refresh(context.Background()); err != nil {
			c.logger.Warn("proactive token refresh failed", "err", err)
		}
	})
}

func (c *Client) cancelTimer() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
}

// forceLogout clears local state after a failed refresh. The server-side
// mapping is already dead; there is nothing left to revoke.
func (c *Client) forceLogout() {
	c.cancelTimer()
	c.store.Clear()
	if c.onLogout != nil {
		c.onLogout()
	}
}

// bufferBody captures the request body so the request can be replayed.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
