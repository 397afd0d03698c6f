// Package oauth is the HTTP client for the upstream identity provider.
// Only two calls are made against it: the token endpoint (code exchange
// and refresh) and the userinfo endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabflow/internal/apierror"
	"collabflow/internal/config"
)

const defaultTimeout = 10 * time.Second

// TokenPair is the provider's token response. The access token is used
// once (to fetch the profile) and discarded; only the refresh token is
// retained, and only inside the refresh token store.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Profile is the provider's userinfo response.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Provider struct {
	tokenURL     string
	userInfoURL  string
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

func NewProvider(cfg config.OAuthConfig) *Provider {
	return &Provider{
		tokenURL:     cfg.TokenURL,
		userInfoURL:  cfg.UserInfoURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
}

// ExchangeCode trades an authorization code + PKCE verifier for tokens.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (TokenPair, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"client_id":     {p.clientID},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}
	if p.redirectURI != "" {
		form.Set("redirect_uri", p.redirectURI)
	}
	return p.tokenRequest(ctx, form)
}

// Refresh trades an upstream refresh token for a new token pair. Providers
// that rotate upstream refresh tokens return a new one; those that do not
// leave RefreshToken empty and the caller keeps the current value.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.clientID},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}
	return p.tokenRequest(ctx, form)
}

func (p *Provider) tokenRequest(ctx context.Context, form url.Values) (TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, apierror.Unexpected(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, apierror.BadGateway("Identity provider is unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TokenPair{}, apierror.BadGateway("Identity provider is unreachable", err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, upstreamError(resp.StatusCode, body)
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return TokenPair{}, apierror.Unexpected(fmt.Errorf("provider token response decode: %w", err))
	}
	if pair.AccessToken == "" {
		return TokenPair{}, apierror.Unexpected(fmt.Errorf("provider token response missing access_token"))
	}
	return pair, nil
}

// FetchProfile validates the upstream access token by using it against
// the userinfo endpoint.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, apierror.Unexpected(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Profile{}, apierror.BadGateway("Identity provider is unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, apierror.BadGateway("Identity provider is unreachable", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Profile{}, upstreamError(resp.StatusCode, body)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return Profile{}, apierror.Unexpected(fmt.Errorf("provider userinfo decode: %w", err))
	}
	if profile.ID == "" {
		return Profile{}, apierror.Unexpected(fmt.Errorf("provider userinfo missing id"))
	}
	return profile, nil
}

// upstreamError preserves the provider's status and error code so the
// central formatter can pick a message.
func upstreamError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	return &apierror.UpstreamError{Status: status, Code: payload.Error}
}
