package github

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, "test-token")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil {
		t.Error("Expected client to be initialized with explicit token")
	}

	// No token still yields a usable, unauthenticated client.
	client, err = NewClient(ctx, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil {
		t.Error("Expected client to be initialized even without token")
	}
}

func TestNewClient_NilContextReturnsError(t *testing.T) {
	var nilCtx context.Context
	_, err := NewClient(nilCtx, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "ctx is nil") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "", WithBaseURL("://bad")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewClient_WithLogger_LogsAndAuthHeader(t *testing.T) {
	ctx := context.Background()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(server.Close)

	for _, tc := range []struct {
		name     string
		token    string
		wantAuth bool
	}{
		{name: "unauthenticated", token: ""},
		{name: "authenticated", token: "test-token", wantAuth: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gotAuth = ""
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			c, err := NewClient(ctx, tc.token, WithLogger(logger), WithBaseURL(server.URL))
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			req, err := c.Client.NewRequest("GET", "rate_limit", nil)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			if _, err := c.Client.Do(ctx, req, nil); err != nil {
				t.Fatalf("Do: %v", err)
			}

			if !strings.Contains(buf.String(), "github api request") || !strings.Contains(buf.String(), "status=200") {
				t.Fatalf("expected request and response logs, got: %q", buf.String())
			}
			if tc.wantAuth && !strings.Contains(gotAuth, "test-token") {
				t.Fatalf("expected Authorization header to contain token, got %q", gotAuth)
			}
			if !tc.wantAuth && gotAuth != "" {
				t.Fatalf("expected no Authorization header, got %q", gotAuth)
			}
		})
	}
}
