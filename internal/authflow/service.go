// Package authflow implements the authentication gateway's core flows:
// exchanging an authorization code for an internal session, rotating
// refresh tokens, and tearing sessions down on logout.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collabflow/internal/apierror"
	"collabflow/internal/auth"
	"collabflow/internal/auth/refreshstore"
	"collabflow/internal/oauth"
	"collabflow/internal/session"

	"github.com/google/uuid"
)

// Provider is the slice of the upstream identity provider this service uses.
type Provider interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (oauth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (oauth.TokenPair, error)
	FetchProfile(ctx context.Context, accessToken string) (oauth.Profile, error)
}

// Service coordinates the token service, refresh token store and session
// store. Stores are injected; nothing here is a package-level singleton.
type Service struct {
	provider Provider
	tokens   *auth.Manager
	refresh  refreshstore.Store
	sessions session.Store
	seal     *sealer
	clock    func() time.Time
}

func NewService(provider Provider, tokens *auth.Manager, refresh refreshstore.Store, sessions session.Store, sealSecret string) (*Service, error) {
	seal, err := newSealer(sealSecret)
	if err != nil {
		return nil, err
	}
	return &Service{
		provider: provider,
		tokens:   tokens,
		refresh:  refresh,
		sessions: sessions,
		seal:     seal,
		clock:    time.Now,
	}, nil
}

// TokenResult is what a successful login or refresh produces. RefreshToken
// and SID travel only in cookies; the response body carries the rest.
type TokenResult struct {
	AccessToken  string
	ExpiresIn    int64
	ExpiresAt    time.Time
	RefreshToken string
	SID          string
	User         auth.Identity
}

// Login exchanges an authorization code for an internal session. The
// upstream access token is used once, to fetch the profile, and dropped.
func (s *Service) Login(ctx context.Context, code, codeVerifier string) (TokenResult, error) {
	pair, err := s.provider.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		return TokenResult{}, err
	}

	profile, err := s.provider.FetchProfile(ctx, pair.AccessToken)
	if err != nil {
		return TokenResult{}, err
	}

	return s.mintSession(ctx, profile, pair.RefreshToken, "")
}

// Refresh redeems the internal refresh token from the cookie, refreshes
// upstream and rotates the internal mapping. The redeemed token value is
// dead the moment this returns, success or not.
func (s *Service) Refresh(ctx context.Context, cookieToken, sid string) (TokenResult, error) {
	upstreamToken, err := s.refresh.Redeem(ctx, cookieToken)
	if err != nil {
		if errors.Is(err, refreshstore.ErrNotFound) {
			return TokenResult{}, apierror.Unauthorized("Invalid refresh token")
		}
		return TokenResult{}, apierror.Unexpected(err)
	}

	pair, err := s.provider.Refresh(ctx, upstreamToken)
	if err != nil {
		// Redeem already consumed the mapping; make sure the cookie value
		// cannot resolve under any circumstances.
		_ = s.refresh.Revoke(ctx, cookieToken)
		return TokenResult{}, err
	}

	profile, err := s.provider.FetchProfile(ctx, pair.AccessToken)
	if err != nil {
		return TokenResult{}, err
	}

	// Providers that do not rotate upstream refresh tokens return none;
	// keep using the redeemed one.
	nextUpstream := pair.RefreshToken
	if nextUpstream == "" {
		nextUpstream = upstreamToken
	}

	// mintSession upserts the session row under the same sid, which
	// already slides its expiry forward.
	return s.mintSession(ctx, profile, nextUpstream, sid)
}

// Logout revokes the refresh mapping and destroys the session. It never
// fails for a missing or already-revoked token.
func (s *Service) Logout(ctx context.Context, cookieToken, sid string) {
	if cookieToken != "" {
		_ = s.refresh.Revoke(ctx, cookieToken)
	}
	if sid != "" {
		_ = s.sessions.Destroy(ctx, sid)
	}
}

// LogoutEverywhere destroys every session belonging to userID in addition
// to the caller's own refresh mapping.
func (s *Service) LogoutEverywhere(ctx context.Context, userID, cookieToken, sid string) error {
	s.Logout(ctx, cookieToken, sid)
	if err := s.sessions.DestroyAllByUserID(ctx, userID); err != nil {
		return apierror.Unexpected(fmt.Errorf("destroy sessions: %w", err))
	}
	return nil
}

func (s *Service) mintSession(ctx context.Context, profile oauth.Profile, upstreamRefresh, sid string) (TokenResult, error) {
	id := auth.Identity{UserID: profile.ID, Email: profile.Email, Name: profile.Name}

	now := s.clock()
	accessToken, expiresAt, err := s.tokens.Sign(now, id)
	if err != nil {
		return TokenResult{}, apierror.Unexpected(fmt.Errorf("sign access token: %w", err))
	}

	refreshToken, err := s.refresh.GenerateAndStore(ctx, upstreamRefresh)
	if err != nil {
		return TokenResult{}, apierror.Unexpected(fmt.Errorf("store refresh token: %w", err))
	}

	if sid == "" {
		sid = uuid.NewString()
	}
	sealed, err := s.seal.Seal(upstreamRefresh)
	if err != nil {
		return TokenResult{}, apierror.Unexpected(fmt.Errorf("seal refresh token: %w", err))
	}
	if err := s.sessions.Set(ctx, sid, session.Session{
		UserID:                id.UserID,
		Email:                 id.Email,
		Name:                  id.Name,
		EncryptedRefreshToken: sealed,
	}); err != nil {
		return TokenResult{}, apierror.Unexpected(fmt.Errorf("store session: %w", err))
	}

	return TokenResult{
		AccessToken:  accessToken,
		ExpiresIn:    int64(expiresAt.Sub(now).Seconds()),
		ExpiresAt:    expiresAt,
		RefreshToken: refreshToken,
		SID:          sid,
		User:         id,
	}, nil
}
