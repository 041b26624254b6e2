package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// expiryBuffer is how early a cached token is treated as stale.
const expiryBuffer = 60 * time.Second

// TokenProvider yields a bearer token for Helix requests.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// TokenSource fetches and caches a Twitch app access (client credentials)
// token. App tokens cover public endpoints (users, streams, clips); the
// subscriptions endpoint needs a user token instead, see UserTokenSource.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// SetToken seeds the cache. Used by tests and by callers that already hold a
// token.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = expiresAt
}

// ForceRefresh discards the cached token and fetches a new one. Used after a
// 401 so a revoked token does not keep failing until its natural expiry.
func (ts *TokenSource) ForceRefresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
	return ts.refresh(ctx)
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", err
	}
	if at.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return ts.token, nil
}

// TokenReader exposes the stored user token. Implemented by the database
// token store; freshness is the background refresher's job.
type TokenReader interface {
	AccessToken(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// UserTokenSource adapts a TokenReader into a TokenProvider for Helix calls
// that require user authorization (subscriptions).
type UserTokenSource struct {
	Store TokenReader
}

func (u *UserTokenSource) Get(ctx context.Context) (string, error) {
	if u == nil || u.Store == nil {
		return "", errors.New("user token store not configured")
	}
	tok, expiresAt, err := u.Store.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("load user token: %w", err)
	}
	if tok == "" {
		return "", errors.New("no stored user token; complete the authorize flow first")
	}
	if !expiresAt.IsZero() && time.Until(expiresAt) < 0 {
		slog.Warn("stored user token is past expiry; refresher may be behind", slog.Time("expires_at", expiresAt))
	}
	return tok, nil
}
