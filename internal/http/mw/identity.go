// Package mw contains HTTP middleware for the pawtalk-api.
package mw

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/pawtalk-api/internal/logging"
	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the caller's identity.
	IdentityKey ContextKey = "identity"
)

// Identity key prefixes.
const (
	AccountPrefix   = "acct:"
	AnonymousPrefix = "ip:"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// IdentityConfig configures the Identity middleware.
type IdentityConfig struct {
	// JWTSecret verifies HS256 session tokens.
	JWTSecret []byte
	// AddressKey keys the HMAC that hashes anonymous client addresses.
	AddressKey []byte
	// IsPrivileged reports whether an account bypasses admission.
	IsPrivileged func(accountID string) bool
	Logger       *slog.Logger
}

// Identity resolves every request to an identity. A valid bearer token yields
// the account named by its subject; otherwise the caller is keyed by a hash of
// their network address, so raw addresses never reach storage or logs.
// A bearer token that is present but invalid is rejected.
//
// Run after RealIP so RemoteAddr reflects the client.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "identity")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id models.Identity

			if token := bearerToken(r); token != "" {
				accountID, err := VerifyToken(cfg.JWTSecret, token)
				if err != nil {
					logger.Debug("rejected bearer token", "error", err)
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				id = AccountIdentity(accountID)
				if cfg.IsPrivileged != nil {
					id.Privileged = cfg.IsPrivileged(accountID)
				}
			} else {
				id = AnonymousIdentity(cfg.AddressKey, r.RemoteAddr)
			}

			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifyToken checks an HS256 session token and returns its subject.
func VerifyToken(secret []byte, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// AccountIdentity builds the identity of a signed-in account.
func AccountIdentity(accountID string) models.Identity {
	return models.Identity{
		Key:                 AccountPrefix + accountID,
		AccountID:           accountID,
		HasPersistedAccount: true,
	}
}

// AnonymousIdentity builds the identity of an anonymous caller from their address.
func AnonymousIdentity(key []byte, remoteAddr string) models.Identity {
	return models.Identity{Key: AnonymousPrefix + HashAddress(key, remoteAddr)}
}

// HashAddress returns a stable keyed hash of the host part of addr.
func HashAddress(key []byte, addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(host))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// WithIdentity stores the identity on the context, tagging log records with its key.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	ctx = logging.WithIdentity(ctx, id.Key)
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity retrieves the caller identity from context.
func GetIdentity(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(models.Identity)
	return id, ok
}

// RequirePrivileged returns middleware that only admits privileged accounts.
func RequirePrivileged() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r.Context())
			if !ok || !id.Privileged {
				http.Error(w, `{"error":"privileged access required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(header)
}
