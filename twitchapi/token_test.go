package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTokenSource_GetCached(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token-123",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: &tokenTransport{host: server.URL},
		},
	}

	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	if callCount != 1 {
		t.Errorf("expected 1 API call, got %d", callCount)
	}

	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if callCount != 1 {
		t.Errorf("expected still 1 API call (cached), got %d", callCount)
	}
}

func TestTokenSource_ForceRefreshDiscardsCache(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-" + strings.Repeat("x", callCount),
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: &tokenTransport{host: server.URL},
		},
	}
	ts.SetToken("seeded", time.Now().Add(1*time.Hour))

	ctx := context.Background()

	// Cached token is valid so Get does not hit the endpoint.
	tok, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "seeded" || callCount != 0 {
		t.Fatalf("Get() = %q (calls=%d), want seeded with no API call", tok, callCount)
	}

	tok, err = ts.ForceRefresh(ctx)
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if tok != "token-x" {
		t.Errorf("ForceRefresh() = %q, want token-x", tok)
	}
	if callCount != 1 {
		t.Errorf("expected 1 API call after forced refresh, got %d", callCount)
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	_, err := ts.Get(context.Background())
	if err == nil {
		t.Error("Get() with missing credentials should return error")
	}
	if !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want error about missing credentials", err)
	}
}

func TestTokenSource_GetServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "bad-client",
		ClientSecret: "bad-secret",
		HTTPClient: &http.Client{
			Transport: &tokenTransport{host: server.URL},
		},
	}

	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with server error should return error")
	}
}

func TestTokenSource_GetEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: &tokenTransport{host: server.URL},
		},
	}

	_, err := ts.Get(context.Background())
	if err == nil {
		t.Error("Get() with empty access_token should return error")
	}
	if !strings.Contains(err.Error(), "empty access_token") {
		t.Errorf("Get() error = %v, want error about empty access_token", err)
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: &tokenTransport{host: server.URL},
		},
	}

	ctx := context.Background()
	results := make(chan string, 5)
	errs := make(chan error, 5)

	for i := 0; i < 5; i++ {
		go func() {
			token, err := ts.Get(ctx)
			if err != nil {
				errs <- err
			} else {
				results <- token
			}
		}()
	}

	for i := 0; i < 5; i++ {
		select {
		case err := <-errs:
			t.Errorf("Get() error = %v", err)
		case token := <-results:
			if token != "test-token" {
				t.Errorf("Get() = %s, want test-token", token)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for concurrent Gets")
		}
	}

	// Goroutines can race past the initial read check, but the write lock
	// re-check keeps redundant fetches minimal.
	if callCount > 2 {
		t.Errorf("expected at most 2 API calls with concurrent access, got %d", callCount)
	}
}

type fakeTokenReader struct {
	token     string
	expiresAt time.Time
	err       error
}

func (f fakeTokenReader) AccessToken(context.Context) (string, time.Time, error) {
	return f.token, f.expiresAt, f.err
}

func TestUserTokenSource_Get(t *testing.T) {
	tests := []struct {
		name        string
		reader      TokenReader
		want        string
		errContains string
		wantErr     bool
	}{
		{
			name:   "stored token returned",
			reader: fakeTokenReader{token: "user-tok", expiresAt: time.Now().Add(time.Hour)},
			want:   "user-tok",
		},
		{
			name:   "expired token still returned",
			reader: fakeTokenReader{token: "old-tok", expiresAt: time.Now().Add(-time.Hour)},
			want:   "old-tok",
		},
		{
			name:        "empty token",
			reader:      fakeTokenReader{},
			wantErr:     true,
			errContains: "no stored user token",
		},
		{
			name:        "store error",
			reader:      fakeTokenReader{err: errors.New("db down")},
			wantErr:     true,
			errContains: "db down",
		},
		{
			name:        "nil store",
			reader:      nil,
			wantErr:     true,
			errContains: "not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &UserTokenSource{Store: tt.reader}
			got, err := src.Get(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Get() error = nil, want error containing %q", tt.errContains)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Get() error = %v, want %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
		})
	}
}

// tokenTransport is a custom transport for redirecting token requests
type tokenTransport struct {
	host string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := strings.TrimPrefix(t.host, "http://")
		req.URL.Host = host
	}
	return http.DefaultTransport.RoundTrip(req)
}
