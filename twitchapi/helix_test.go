package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(serverURL string) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{
				Transport: http.DefaultTransport,
				host:      serverURL,
			},
		},
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "12345", "login": "testuser"},
				},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:  "user not found",
			login: "nonexistent",
			response: map[string]interface{}{
				"data": []map[string]string{},
			},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			userID, err := client.GetUserID(context.Background(), tt.login)

			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("GetUserID() unexpected error = %v", err)
				return
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetStreams(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		userID      string
		wantStreams int
		errContains string
		wantErr     bool
	}{
		{
			name:   "channel live",
			userID: "12345",
			response: map[string]interface{}{
				"data": []map[string]interface{}{{
					"id":           "stream-1",
					"user_id":      "12345",
					"user_login":   "livechannel",
					"game_id":      "509658",
					"title":        "Live Now",
					"viewer_count": 87,
					"started_at":   "2024-10-15T14:30:00Z",
				}},
			},
			wantStreams: 1,
		},
		{
			name:   "channel offline",
			userID: "12345",
			response: map[string]interface{}{
				"data": []map[string]interface{}{},
			},
			wantStreams: 0,
		},
		{
			name:        "empty userID",
			userID:      "",
			wantErr:     true,
			errContains: "userID empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.userID != "" && r.URL.Query().Get("user_id") != tt.userID {
					t.Errorf("user_id = %s, want %s", r.URL.Query().Get("user_id"), tt.userID)
				}
				w.WriteHeader(http.StatusOK)
				if tt.response != nil {
					json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			streams, err := client.GetStreams(context.Background(), tt.userID)

			if tt.wantErr {
				if err == nil {
					t.Errorf("GetStreams() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetStreams() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("GetStreams() unexpected error = %v", err)
				return
			}
			if len(streams) != tt.wantStreams {
				t.Fatalf("GetStreams() returned %d streams, want %d", len(streams), tt.wantStreams)
			}
			if tt.wantStreams > 0 {
				s := streams[0]
				if s.ViewerCount != 87 {
					t.Errorf("viewer_count = %d, want 87", s.ViewerCount)
				}
				if s.GameID != "509658" {
					t.Errorf("game_id = %s, want 509658", s.GameID)
				}
				want := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
				if !s.StartedAt.Equal(want) {
					t.Errorf("started_at = %v, want %v", s.StartedAt, want)
				}
			}
		})
	}
}

type staticUserTokens struct{ token string }

func (s staticUserTokens) Get(context.Context) (string, error) { return s.token, nil }

func TestHelixClient_GetSubscriberTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("broadcaster_id"); got != "12345" {
			t.Errorf("broadcaster_id = %s, want 12345", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %s, want user token", got)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data":       []map[string]string{},
			"pagination": map[string]string{},
			"total":      321,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.UserTokens = staticUserTokens{token: "user-token"}

	total, err := client.GetSubscriberTotal(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetSubscriberTotal() error = %v", err)
	}
	if total != 321 {
		t.Errorf("GetSubscriberTotal() = %d, want 321", total)
	}
}

func TestHelixClient_GetSubscriberTotalRequiresUserTokens(t *testing.T) {
	client := newTestClient("http://unused")
	_, err := client.GetSubscriberTotal(context.Background(), "12345")
	if err == nil || !strings.Contains(err.Error(), "user token") {
		t.Fatalf("expected user token error, got %v", err)
	}
}

func TestHelixClient_GetClips(t *testing.T) {
	start := time.Date(2024, 10, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("broadcaster_id") != "12345" {
			t.Errorf("broadcaster_id = %s, want 12345", q.Get("broadcaster_id"))
		}
		if q.Get("started_at") != "2024-10-14T00:00:00Z" {
			t.Errorf("started_at = %s", q.Get("started_at"))
		}
		if q.Get("ended_at") != "2024-10-15T00:00:00Z" {
			t.Errorf("ended_at = %s", q.Get("ended_at"))
		}
		if q.Get("first") != "10" {
			t.Errorf("first = %s, want 10", q.Get("first"))
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"id":         "clip-1",
					"url":        "https://clips.twitch.tv/clip-1",
					"title":      "Big Play",
					"view_count": 1500,
					"created_at": "2024-10-14T18:00:00Z",
					"duration":   28.5,
				},
				{
					"id":         "clip-2",
					"url":        "https://clips.twitch.tv/clip-2",
					"title":      "Second Best",
					"view_count": 900,
					"created_at": "2024-10-14T19:00:00Z",
					"duration":   14.0,
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	clips, err := client.GetClips(context.Background(), "12345", start, end, 10)
	if err != nil {
		t.Fatalf("GetClips() error = %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(clips))
	}
	if clips[0].ViewCount != 1500 || clips[0].Duration != 28.5 {
		t.Errorf("clip[0] = %+v", clips[0])
	}
}

func TestHelixClient_GetClipsDefaultFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first := r.URL.Query().Get("first"); first != "20" {
			t.Errorf("first = %s, want 20 (default)", first)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.GetClips(context.Background(), "12345", time.Now().Add(-time.Hour), time.Now(), 0); err != nil {
		t.Errorf("GetClips() error = %v", err)
	}
}

// Zero times must not reach the API as year-one timestamps; leaving the
// window off is what selects the all-time top clips.
func TestHelixClient_GetClipsAllTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("started_at") {
			t.Errorf("started_at sent for all-time query: %s", q.Get("started_at"))
		}
		if q.Has("ended_at") {
			t.Errorf("ended_at sent for all-time query: %s", q.Get("ended_at"))
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.GetClips(context.Background(), "12345", time.Time{}, time.Time{}, 20); err != nil {
		t.Errorf("GetClips() error = %v", err)
	}
}

// TestHelixClient_429RateLimiting verifies retry behavior on 429 responses.
func TestHelixClient_429RateLimiting(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.Header().Set("Retry-After", "0")
			w.Header().Set("Ratelimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "Too Many Requests", "status": 429})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"id": "stream-1", "viewer_count": 5}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	streams, err := client.GetStreams(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetStreams() unexpected error after 429 retry = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream after retry, got %d", len(streams))
	}
	if attemptCount != 2 {
		t.Fatalf("expected 2 attempts (429 + success), got %d", attemptCount)
	}
}

func TestHelixClient_5xxRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "bad gateway"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "u-1"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	userID, err := client.GetUserID(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error after 5xx retry = %v", err)
	}
	if userID != "u-1" {
		t.Fatalf("GetUserID() = %q, want u-1", userID)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts (5xx + success), got %d", attempts)
	}
}

func TestHelixClient_5xxRetriesExhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "still broken"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetStreams(context.Background(), "12345")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("after %d attempts", helixMaxRetries)) {
		t.Errorf("error = %v, want attempt count in message", err)
	}
	if attempts != helixMaxRetries {
		t.Fatalf("expected %d attempts, got %d", helixMaxRetries, attempts)
	}
}

func TestHelixClient_401RefreshRetry(t *testing.T) {
	userAttempts := 0
	tokenRequests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		case "/helix/users":
			userAttempts++
			if userAttempts == 1 {
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Fatalf("first attempt auth = %q, want stale token", got)
				}
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Unauthorized", "status": 401})
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Fatalf("second attempt auth = %q, want refreshed token", got)
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "u-123"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	rewrite := &http.Client{
		Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		},
	}
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: rewrite}
	ts.SetToken("stale-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: rewrite}

	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-123" {
		t.Fatalf("GetUserID() = %q, want u-123", userID)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected exactly one token refresh request, got %d", tokenRequests)
	}
	if userAttempts != 2 {
		t.Fatalf("expected two /helix/users attempts, got %d", userAttempts)
	}
}

func TestHelixClient_401SecondUnauthorizedFails(t *testing.T) {
	tokenRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Unauthorized", "status": 401})
		}
	}))
	defer server.Close()

	rewrite := &http.Client{
		Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		},
	}
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: rewrite}
	ts.SetToken("stale-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: rewrite}

	_, err := client.GetUserID(context.Background(), "testuser")
	if err == nil {
		t.Fatal("expected error when 401 persists after refresh")
	}
	if tokenRequests != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", tokenRequests)
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
