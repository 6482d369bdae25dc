// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
)

// Ledger backends for anonymous free-use and credit state.
const (
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMemory = "memory"
	LedgerBackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret            string
	PrivilegedAccountIDs []string
	IdentityKey          []byte // 32-byte HMAC key for hashing client addresses

	// Forwarded client addresses are honoured only from these peers
	TrustedProxies []netip.Prefix

	// CORS
	CORSOrigins []string

	// Deployment mode
	DeploymentMode string // "production" or "dev"

	// Stripe
	StripeSecretKey       string
	StripeWebhookSecret   string
	DefaultPurchaseCredit int // Credits granted when checkout metadata omits a count

	// Video generation provider
	VideoAPIKey     string
	VideoAPIBaseURL string
	VideoModel      string

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled       bool
	StorageEndpoint      string // AWS_ENDPOINT_URL_S3
	StorageAccessKey     string // AWS_ACCESS_KEY_ID
	StorageSecretKey     string // AWS_SECRET_ACCESS_KEY
	StorageBucket        string
	StorageRegion        string
	StoragePublicBaseURL string // Public URL prefix for uploaded videos (CDN or bucket URL)

	// Local files
	StagingDir string // Downloaded/watermarked videos before upload
	UploadDir  string // Source images received from clients

	// Watermark
	WatermarkEnabled bool
	WatermarkText    string
	FFmpegPath       string

	// Access ledger
	LedgerBackend   string
	RedisURL        string
	FreeCooldown    time.Duration
	FreeEntryIdle   time.Duration
	CreditEntryIdle time.Duration

	// Cleanup
	CleanupInterval time.Duration
	StagingMaxAge   time.Duration

	// Poller
	PollerEnabled     bool
	PollerInterval    time.Duration
	PollerConcurrency int
	StaleJobAge       time.Duration

	// Scale-to-zero: stop the server after this long without traffic (0 disables)
	IdleShutdownTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:pawtalk.db?_journal=WAL&_timeout=5000"),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		PrivilegedAccountIDs: getEnvSlice("PRIVILEGED_ACCOUNT_IDS", nil),

		CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
		DeploymentMode: getEnv("DEPLOYMENT_MODE", "production"),

		StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		DefaultPurchaseCredit: getEnvInt("CREDITS_PER_PURCHASE_DEFAULT", 5),

		VideoAPIKey:     getEnv("VIDEO_API_KEY", ""),
		VideoAPIBaseURL: getEnv("VIDEO_API_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VideoModel:      getEnv("VIDEO_MODEL", "veo-3.0-fast-generate-001"),

		// Fly/Tigris standard env vars; BUCKET_NAME is set by `fly storage create`
		StorageEndpoint:      getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:        getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:        getEnv("AWS_REGION", "auto"),
		StoragePublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", ""),

		StagingDir: getEnv("STAGING_DIR", filepath.Join(os.TempDir(), "pawtalk-staging")),
		UploadDir:  getEnv("UPLOAD_DIR", "uploads"),

		WatermarkEnabled: getEnvBool("WATERMARK_ENABLED", true),
		WatermarkText:    getEnv("WATERMARK_TEXT", "pawtalk"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),

		LedgerBackend:   strings.ToLower(getEnv("LEDGER_BACKEND", LedgerBackendSQLite)),
		RedisURL:        getEnv("REDIS_URL", ""),
		FreeCooldown:    getEnvDuration("FREE_COOLDOWN", constants.DefaultFreeCooldown),
		FreeEntryIdle:   getEnvDuration("FREE_ENTRY_IDLE", constants.FreeEntryIdle),
		CreditEntryIdle: getEnvDuration("CREDIT_ENTRY_IDLE", constants.CreditEntryIdle),

		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		StagingMaxAge:   getEnvDuration("STAGING_MAX_AGE", 6*time.Hour),

		PollerEnabled:     getEnvBool("POLLER_ENABLED", true),
		PollerInterval:    getEnvDuration("POLLER_INTERVAL", 10*time.Second),
		PollerConcurrency: getEnvInt("POLLER_CONCURRENCY", 3),
		StaleJobAge:       getEnvDuration("STALE_JOB_AGE", constants.DefaultStaleJobAge),

		IdleShutdownTimeout: getEnvDuration("IDLE_SHUTDOWN_TIMEOUT", 0),
	}

	// Storage is required for completed jobs, but the server can start without it
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	switch cfg.LedgerBackend {
	case LedgerBackendSQLite, LedgerBackendMemory:
	case LedgerBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when LEDGER_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = generateRandomSecret(64)
	}

	proxies, err := parsePrefixes(getEnvSlice("TRUSTED_PROXIES", nil))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	identitySecret := getEnv("IDENTITY_SECRET", cfg.JWTSecret)
	cfg.IdentityKey = deriveKey(identitySecret, "pawtalk-identity-v1", "client-address-hmac")

	return cfg, nil
}

// IsDev returns true when running in local development mode.
func (c *Config) IsDev() bool {
	return c.DeploymentMode == "dev"
}

// IsPrivileged reports whether an account bypasses admission entirely.
func (c *Config) IsPrivileged(accountID string) bool {
	if accountID == "" {
		return false
	}
	for _, id := range c.PrivilegedAccountIDs {
		if strings.TrimSpace(id) == accountID {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// parsePrefixes accepts CIDRs and bare addresses.
func parsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-me-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveKey derives a 32-byte key from a high-entropy secret using HKDF-SHA256.
// The salt and info strings bind the key to a single purpose.
func deriveKey(secret, salt, info string) []byte {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}
	return key
}
