package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/httprate"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractBearerToken(tt.header); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"inactive user", "Bearer " + inactiveToken, http.StatusForbidden},
		{"valid token", "Bearer alice", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, Options{})

			req := httptest.NewRequest(http.MethodGet, "/api/notifications/subscriptions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Error("expected WWW-Authenticate: Bearer")
			}
		})
	}
}

func TestAuthMiddleware_NilAuthenticatorRejects(t *testing.T) {
	server := New(Options{Store: newTestStore(t)})

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestUserRateKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	key, err := UserRateKey(httprate.KeyByIP)(req.WithContext(withUserID(context.Background(), 7)))
	if err != nil {
		t.Fatal(err)
	}
	if key != "user:7" {
		t.Errorf("key = %q, want user:7", key)
	}

	key, err = UserRateKey(httprate.KeyByIP)(req)
	if err != nil {
		t.Fatal(err)
	}
	if key == "user:7" || key == "" {
		t.Errorf("anonymous key = %q", key)
	}
}
