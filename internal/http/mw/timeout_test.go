package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ========================================
// Timeout Middleware Tests
// ========================================

func sleepyHandler(d time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})
}

func TestTimeout(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          20 * time.Millisecond,
		Extended:         500 * time.Millisecond,
		ExtendedPatterns: []string{"/generations"},
		SkipWaitRequests: true,
	}

	tests := []struct {
		name     string
		method   string
		target   string
		sleep    time.Duration
		expected int
	}{
		{"fast default", http.MethodGet, "/api/v1/credits", 0, http.StatusOK},
		{"slow default times out", http.MethodGet, "/api/v1/credits", 100 * time.Millisecond, http.StatusGatewayTimeout},
		{"upload gets extended", http.MethodPost, "/api/v1/generations", 100 * time.Millisecond, http.StatusOK},
		{"GET on upload path uses default", http.MethodGet, "/api/v1/generations", 100 * time.Millisecond, http.StatusGatewayTimeout},
		{"wait request skips timeout", http.MethodGet, "/api/v1/generations/j1?wait=true", 100 * time.Millisecond, http.StatusOK},
		{"wait=false is timed", http.MethodGet, "/api/v1/generations/j1?wait=false", 100 * time.Millisecond, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Timeout(cfg)(sleepyHandler(tt.sleep))
			req := httptest.NewRequest(tt.method, tt.target, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("status = %d, want %d", rec.Code, tt.expected)
			}
		})
	}
}

func TestTimeout_WaitNotSkippedWhenDisabled(t *testing.T) {
	cfg := TimeoutConfig{Default: 20 * time.Millisecond, Extended: 20 * time.Millisecond}
	handler := Timeout(cfg)(sleepyHandler(100 * time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/j1?wait=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}
