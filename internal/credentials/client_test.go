package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCredentials_Ready(t *testing.T) {
	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{
			name:  "complete",
			creds: &Credentials{ConnectionURL: "wss://hub.test", AccessToken: "tok"},
			want:  true,
		},
		{
			name:  "missing token",
			creds: &Credentials{ConnectionURL: "wss://hub.test"},
			want:  false,
		},
		{
			name:  "missing url",
			creds: &Credentials{AccessToken: "tok"},
			want:  false,
		},
		{
			name:  "empty",
			creds: &Credentials{},
			want:  false,
		},
		{
			name:  "nil",
			creds: nil,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"connectionUrl":"wss://hub.test/stream","accessToken":"tok-abc"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-123")
	creds, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !creds.Ready() {
		t.Error("complete credentials reported not ready")
	}
	if creds.ConnectionURL != "wss://hub.test/stream" {
		t.Errorf("ConnectionURL = %q", creds.ConnectionURL)
	}
	if creds.AccessToken != "tok-abc" {
		t.Errorf("AccessToken = %q", creds.AccessToken)
	}
}

func TestClient_FetchIncompleteNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	creds, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("incomplete credentials must not be an error, got %v", err)
	}
	if creds.Ready() {
		t.Error("empty credentials reported ready")
	}
}

func TestClient_FetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":{"connectionUrl":"wss://hub.test","accessToken":"tok"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithRetries(3, time.Millisecond))
	creds, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if !creds.Ready() {
		t.Error("credentials not ready after successful retry")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
}

func TestClient_FetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", WithRetries(3, time.Millisecond))
	_, err := c.Fetch(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1 (no retry on 401)", got)
	}
}

func TestClient_FetchMaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithRetries(2, time.Millisecond))
	_, err := c.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestClient_Ping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, wantErr: false},
		{name: "client error still reachable", status: http.StatusNotFound, wantErr: false},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "key")
			err := c.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_PingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "key", WithTimeout(500*time.Millisecond))
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against a dead endpoint")
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status}
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
