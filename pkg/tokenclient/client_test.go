package tokenclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatewayStub mimics the auth gateway: /auth/token issues token-1,
// each /auth/refresh issues token-N+1, and /data requires the newest token.
type gatewayStub struct {
	mu            sync.Mutex
	current       string
	refreshCalls  int32
	refreshDelay  time.Duration
	refreshFails  bool
	dataAlways401 bool
}

func (g *gatewayStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.current = "token-1"
		g.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "internal_refresh_token", Value: "rt-1", Path: "/", HttpOnly: true})
		writeToken(w, "token-1")
	})

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&g.refreshCalls, 1)
		if g.refreshDelay > 0 {
			time.Sleep(g.refreshDelay)
		}
		g.mu.Lock()
		fails := g.refreshFails
		g.mu.Unlock()
		if fails {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Invalid refresh token","details":{}}`)
			return
		}
		tok := fmt.Sprintf("token-%d", n+1)
		g.mu.Lock()
		g.current = tok
		g.mu.Unlock()
		writeToken(w, tok)
	})

	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		want := "Bearer " + g.current
		reject := g.dataAlways401
		g.mu.Unlock()
		if reject || r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	return mux
}

func writeToken(w http.ResponseWriter, tok string) {
	w.Header().Set("Content-Type", "application/json")
	now := time.Now()
	fmt.Fprintf(w, `{"internal_access_token":%q,"expires_in":900,"expires_at":%d}`, tok, now.Add(900*time.Second).Unix())
}

func newLoggedInClient(t *testing.T, g *gatewayStub, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(c.cancelTimer)

	if _, err := c.Login(context.Background(), "c", "v"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return c
}

func (c *Client) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestDo_RefreshesAndRetriesOn401(t *testing.T) {
	g := &gatewayStub{}
	c := newLoggedInClient(t, g)

	// Invalidate the client's token server-side.
	g.mu.Lock()
	g.current = "rotated-away"
	g.mu.Unlock()

	resp := c.get(t, "/data")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after refresh-and-retry, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&g.refreshCalls); n != 1 {
		t.Fatalf("expected 1 refresh call, got %d", n)
	}
}

func TestDo_Concurrent401sSingleRefresh(t *testing.T) {
	g := &gatewayStub{refreshDelay: 100 * time.Millisecond}
	c := newLoggedInClient(t, g)

	g.mu.Lock()
	g.current = "rotated-away"
	g.mu.Unlock()

	const n = 10
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := c.get(t, "/data")
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("caller %d: expected 200, got %d", i, code)
		}
	}
	if calls := atomic.LoadInt32(&g.refreshCalls); calls != 1 {
		t.Fatalf("expected exactly 1 refresh call for %d concurrent 401s, got %d", n, calls)
	}
}

func TestDo_RetriedRequestFailsImmediatelyOnSecond401(t *testing.T) {
	g := &gatewayStub{}
	c := newLoggedInClient(t, g)

	// /data rejects even after a successful refresh.
	g.mu.Lock()
	g.dataAlways401 = true
	g.mu.Unlock()

	resp := c.get(t, "/data")
	defer resp.Body.Close()
	// One refresh, one retry, then the 401 surfaces; no infinite loop.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 to surface after single retry, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&g.refreshCalls); n != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", n)
	}
}

func TestDo_RefreshFailureForcesLogout(t *testing.T) {
	g := &gatewayStub{}
	loggedOut := false
	c := newLoggedInClient(t, g, WithLogoutHandler(func() { loggedOut = true }))

	g.mu.Lock()
	g.refreshFails = true
	g.current = "rotated-away"
	g.mu.Unlock()

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/data", nil)
	if _, err := c.Do(req); err == nil {
		t.Fatalf("expected error when refresh fails")
	}
	if !loggedOut {
		t.Fatalf("expected forced logout after refresh failure")
	}
	if _, ok := c.State(); ok {
		t.Fatalf("expected state cleared after forced logout")
	}
}

func TestDo_ExemptPathNeverTriggersRefresh(t *testing.T) {
	g := &gatewayStub{}
	c := newLoggedInClient(t, g)

	resp := c.get(t, "/auth/me")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 passthrough, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&g.refreshCalls); n != 0 {
		t.Fatalf("exempt path must not trigger refresh, got %d calls", n)
	}
}

func TestProactiveRefreshFiresBeforeExpiry(t *testing.T) {
	g := &gatewayStub{}
	// Lead of 899s against a 900s TTL: the timer fires ~1s after login.
	c := newLoggedInClient(t, g, WithRefreshLead(899*time.Second))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&g.refreshCalls) >= 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&g.refreshCalls); n < 1 {
		t.Fatalf("expected proactive refresh to fire, got %d calls", n)
	}

	state, ok := c.State()
	if !ok || state.AccessToken != "token-2" {
		t.Fatalf("expected rotated token in state, got %+v", state)
	}
}

func TestLogoutCancelsProactiveTimer(t *testing.T) {
	g := &gatewayStub{}
	c := newLoggedInClient(t, g, WithRefreshLead(899*time.Second))

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	if n := atomic.LoadInt32(&g.refreshCalls); n != 0 {
		t.Fatalf("expected no refresh after logout, got %d", n)
	}
	if _, ok := c.State(); ok {
		t.Fatalf("expected state cleared on logout")
	}
}
