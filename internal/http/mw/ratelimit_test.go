package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// hit sends n requests as id and returns the status of the last one.
func hit(handler http.Handler, id *models.Identity, n int) int {
	code := 0
	for range n {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		if id != nil {
			req = req.WithContext(WithIdentity(req.Context(), *id))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		code = rec.Code
	}
	return code
}

// ========================================
// DefaultRateLimitConfig Tests
// ========================================

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.AccountRequestsPerMinute <= cfg.AnonymousRequestsPerMinute {
		t.Errorf("accounts (%d) should get more headroom than anonymous callers (%d)",
			cfg.AccountRequestsPerMinute, cfg.AnonymousRequestsPerMinute)
	}
}

// ========================================
// RateLimitByIdentity Tests
// ========================================

func TestRateLimitByIdentity_Anonymous(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{AccountRequestsPerMinute: 10, AnonymousRequestsPerMinute: 2})(okHandler())
	anon := &models.Identity{Key: "ip:aaaa"}

	if code := hit(handler, anon, 2); code != http.StatusOK {
		t.Errorf("status = %d, want 200 within limit", code)
	}
	if code := hit(handler, anon, 1); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 over limit", code)
	}

	// A different identity has its own window.
	if code := hit(handler, &models.Identity{Key: "ip:bbbb"}, 1); code != http.StatusOK {
		t.Errorf("status = %d, want 200 for another identity", code)
	}
}

func TestRateLimitByIdentity_Account(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{AccountRequestsPerMinute: 5, AnonymousRequestsPerMinute: 1})(okHandler())
	acct := &models.Identity{Key: "acct:u1", AccountID: "u1", HasPersistedAccount: true}

	if code := hit(handler, acct, 5); code != http.StatusOK {
		t.Errorf("status = %d, want 200 within account limit", code)
	}
	if code := hit(handler, acct, 1); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 over account limit", code)
	}
}

func TestRateLimitByIdentity_UnlimitedAccounts(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{AccountRequestsPerMinute: 0, AnonymousRequestsPerMinute: 1})(okHandler())
	acct := &models.Identity{Key: "acct:u1", AccountID: "u1", HasPersistedAccount: true}

	if code := hit(handler, acct, 50); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (unlimited)", code)
	}
}

func TestRateLimitByIdentity_PrivilegedBypass(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{AccountRequestsPerMinute: 1, AnonymousRequestsPerMinute: 1})(okHandler())
	admin := &models.Identity{Key: "acct:a1", AccountID: "a1", HasPersistedAccount: true, Privileged: true}

	if code := hit(handler, admin, 20); code != http.StatusOK {
		t.Errorf("status = %d, want 200 for privileged caller", code)
	}
}

func TestRateLimitByIdentity_NoIdentityFallsBackToIP(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{AnonymousRequestsPerMinute: 1})(okHandler())

	if code := hit(handler, nil, 1); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if code := hit(handler, nil, 1); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", code)
	}
}

// ========================================
// RateLimitByIP Tests
// ========================================

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(100)(okHandler())

	if code := hit(handler, nil, 1); code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
}
