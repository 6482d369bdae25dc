package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds request-rate limits. These guard the transport and
// are separate from the free-generation cooldown enforced at admission.
type RateLimitConfig struct {
	// AccountRequestsPerMinute applies to signed-in callers. 0 means unlimited.
	AccountRequestsPerMinute int
	// AnonymousRequestsPerMinute applies to callers without an account.
	AnonymousRequestsPerMinute int
}

// DefaultRateLimitConfig returns the default request limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		AccountRequestsPerMinute:   120,
		AnonymousRequestsPerMinute: 30,
	}
}

// RateLimitByIdentity returns a middleware that rate limits by identity key.
// Should be applied AFTER the Identity middleware; requests without an
// identity fall back to limiting by IP. Privileged callers are never limited.
func RateLimitByIdentity(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := func(r *http.Request) (string, error) {
		if id, ok := GetIdentity(r.Context()); ok {
			return id.Key, nil
		}
		return httprate.KeyByIP(r)
	}

	var accountLimiter *httprate.RateLimiter
	if cfg.AccountRequestsPerMinute > 0 {
		accountLimiter = httprate.NewRateLimiter(cfg.AccountRequestsPerMinute, time.Minute, httprate.WithKeyFuncs(keyFunc))
	}
	anonLimiter := httprate.NewRateLimiter(cfg.AnonymousRequestsPerMinute, time.Minute, httprate.WithKeyFuncs(keyFunc))

	return func(next http.Handler) http.Handler {
		limitedAccount := next
		if accountLimiter != nil {
			limitedAccount = accountLimiter.Handler(next)
		}
		limitedAnon := anonLimiter.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r.Context())
			switch {
			case ok && id.Privileged:
				next.ServeHTTP(w, r)
			case ok && id.HasPersistedAccount:
				limitedAccount.ServeHTTP(w, r)
			default:
				limitedAnon.ServeHTTP(w, r)
			}
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
