package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name        string
		cfg         authConfig
		reqUsername string
		reqPassword string
		reqToken    string
		wantStatus  int
	}{
		{
			name:       "unconfigured auth allows the request",
			cfg:        authConfig{},
			wantStatus: http.StatusOK,
		},
		{
			name:        "valid basic auth",
			cfg:         authConfig{adminUsername: "ops", adminPassword: "hunter2", enabled: true},
			reqUsername: "ops",
			reqPassword: "hunter2",
			wantStatus:  http.StatusOK,
		},
		{
			name:        "wrong basic auth password",
			cfg:         authConfig{adminUsername: "ops", adminPassword: "hunter2", enabled: true},
			reqUsername: "ops",
			reqPassword: "hunter3",
			wantStatus:  http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			cfg:        authConfig{adminToken: "tok-abc123", enabled: true},
			reqToken:   "tok-abc123",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong token",
			cfg:        authConfig{adminToken: "tok-abc123", enabled: true},
			reqToken:   "tok-other",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "token accepted even with bad basic credentials",
			cfg:         authConfig{adminUsername: "ops", adminPassword: "hunter2", adminToken: "tok-abc123", enabled: true},
			reqUsername: "nope",
			reqPassword: "nope",
			reqToken:    "tok-abc123",
			wantStatus:  http.StatusOK,
		},
		{
			name:       "missing credentials entirely",
			cfg:        authConfig{adminUsername: "ops", adminPassword: "hunter2", enabled: true},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := adminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), &tt.cfg)

			req := httptest.NewRequest(http.MethodPost, "/admin/flush", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 100 * time.Millisecond}
	limiter := newIPRateLimiter(context.Background(), cfg)

	for i := 0; i < 3; i++ {
		if !limiter.allow("203.0.113.5") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("203.0.113.5") {
		t.Fatal("request over the limit should be denied")
	}

	// A different address has its own window.
	if !limiter.allow("203.0.113.6") {
		t.Fatal("different address should not share the window")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.allow("203.0.113.5") {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second}
	limiter := newIPRateLimiter(context.Background(), cfg)

	for i := 0; i < 50; i++ {
		if !limiter.allow("203.0.113.5") {
			t.Fatalf("request %d should be allowed when limiting is disabled", i+1)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second}
	limiter := newIPRateLimiter(context.Background(), cfg)

	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/flush", nil)
		req.RemoteAddr = "198.51.100.9:41000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/flush", nil)
	req.RemoteAddr = "198.51.100.9:41001"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr with port", "10.1.2.3:4567", "", "10.1.2.3"},
		{"remote addr without port", "10.1.2.3", "", "10.1.2.3"},
		{"bracketed ipv6 with port", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded single", "10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"forwarded list takes first hop", "10.0.0.1:80", "203.0.113.7, 10.0.0.2, 10.0.0.3", "203.0.113.7"},
		{"forwarded bare ipv6", "10.0.0.1:80", "2001:db8::42", "2001:db8::42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	tests := []struct {
		name            string
		cfg             corsConfig
		origin          string
		wantAllowOrigin string
		wantCredentials bool
	}{
		{
			name:            "permissive allows any origin",
			cfg:             corsConfig{permissive: true},
			origin:          "https://example.com",
			wantAllowOrigin: "*",
		},
		{
			name:            "restricted with matching origin",
			cfg:             corsConfig{allowedOrigins: []string{"https://dash.example.com"}},
			origin:          "https://dash.example.com",
			wantAllowOrigin: "https://dash.example.com",
			wantCredentials: true,
		},
		{
			name:            "restricted rejects unknown origin",
			cfg:             corsConfig{allowedOrigins: []string{"https://dash.example.com"}},
			origin:          "https://evil.example.net",
			wantAllowOrigin: "",
		},
		{
			name:            "wildcard subdomain",
			cfg:             corsConfig{allowedOrigins: []string{"*.example.com"}},
			origin:          "https://app.example.com",
			wantAllowOrigin: "https://app.example.com",
			wantCredentials: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), &tt.cfg)

			req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if tt.wantCredentials && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true")
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for OPTIONS")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/metrics", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on preflight response")
	}
	if rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("expected Allow-Headers header on preflight response")
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name        string
		username    string
		password    string
		token       string
		wantEnabled bool
	}{
		{name: "nothing configured", wantEnabled: false},
		{name: "username without password", username: "ops", wantEnabled: false},
		{name: "basic auth pair", username: "ops", password: "hunter2", wantEnabled: true},
		{name: "token only", token: "tok-abc123", wantEnabled: true},
		{name: "both methods", username: "ops", password: "hunter2", token: "tok-abc123", wantEnabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_USERNAME", tt.username)
			t.Setenv("ADMIN_PASSWORD", tt.password)
			t.Setenv("ADMIN_TOKEN", tt.token)

			cfg := loadAuthConfig()
			if cfg.enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", cfg.enabled, tt.wantEnabled)
			}
		})
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		env            string
		permissiveVar  string
		origins        string
		wantPermissive bool
		wantOrigins    int
	}{
		{name: "default is dev mode", wantPermissive: true},
		{name: "explicit dev", env: "dev", wantPermissive: true},
		{name: "production restricts", env: "production", wantPermissive: false},
		{name: "production with origins", env: "production", origins: "https://a.example.com, https://b.example.com", wantPermissive: false, wantOrigins: 2},
		{name: "permissive override", env: "production", permissiveVar: "1", wantPermissive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("CORS_PERMISSIVE", tt.permissiveVar)
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)

			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive {
				t.Errorf("permissive = %v, want %v", cfg.permissive, tt.wantPermissive)
			}
			if len(cfg.allowedOrigins) != tt.wantOrigins {
				t.Errorf("allowed origins = %d, want %d", len(cfg.allowedOrigins), tt.wantOrigins)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"exact match", "https://dash.example.com", []string{"https://dash.example.com"}, true},
		{"no match", "https://evil.example.net", []string{"https://dash.example.com"}, false},
		{"wildcard subdomain", "https://app.example.com", []string{"*.example.com"}, true},
		{"wildcard nested subdomain", "https://api.v2.example.com", []string{"*.example.com"}, true},
		{"wildcard matches bare domain", "https://example.com", []string{"*.example.com"}, true},
		{"scheme mismatch is not exact", "http://dash.example.com", []string{"https://dash.example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, tt.allowed); got != tt.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input string
		def   int
		want  int
	}{
		{"25", 0, 25},
		{"", 7, 7},
		{"not-a-number", 7, 7},
		{"-3", 0, -3},
		{"0", 99, 0},
	}

	for _, tt := range tests {
		if got := parseInt(tt.input, tt.def); got != tt.want {
			t.Errorf("parseInt(%q, %d) = %d, want %d", tt.input, tt.def, got, tt.want)
		}
	}
}
