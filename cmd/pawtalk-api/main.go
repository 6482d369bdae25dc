// Package main is the entry point for the pawtalk-api server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jmylchreest/pawtalk-api/internal/config"
	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/database"
	"github.com/jmylchreest/pawtalk-api/internal/http/handlers"
	"github.com/jmylchreest/pawtalk-api/internal/http/mw"
	"github.com/jmylchreest/pawtalk-api/internal/http/routes"
	"github.com/jmylchreest/pawtalk-api/internal/logging"
	"github.com/jmylchreest/pawtalk-api/internal/provider"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
	"github.com/jmylchreest/pawtalk-api/internal/service"
	"github.com/jmylchreest/pawtalk-api/internal/shutdown"
	"github.com/jmylchreest/pawtalk-api/internal/version"
	"github.com/jmylchreest/pawtalk-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting pawtalk-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repositories
	repos := repository.NewRepositories(db)
	ledgerStore, closeLedger, err := newLedgerStore(ctx, cfg, repos.Ledger, logger)
	if err != nil {
		logger.Error("failed to initialize access ledger", "backend", cfg.LedgerBackend, "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	// Initialize services
	ledger := service.NewAccessLedger(ledgerStore, service.LedgerConfig{
		FreeCooldown:    cfg.FreeCooldown,
		FreeEntryIdle:   cfg.FreeEntryIdle,
		CreditEntryIdle: cfg.CreditEntryIdle,
	}, logger)
	admission := service.NewAdmissionService(ledger, service.NewAccountCredits(repos.Account), logger)
	credits := service.NewCreditService(repos.Account, repos.Purchase, ledger, logger)

	storage, err := service.NewStorageService(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	var store service.VideoStore
	if storage.IsEnabled() {
		store = storage
	}

	if cfg.VideoAPIKey == "" {
		logger.Warn("VIDEO_API_KEY not set - generation requests will be rejected by the provider")
	}
	videoProvider := provider.NewVeoClient(provider.VeoConfig{
		APIKey:    cfg.VideoAPIKey,
		BaseURL:   cfg.VideoAPIBaseURL,
		Model:     cfg.VideoModel,
		UserAgent: v.UserAgent(),
	})

	generation := service.NewGenerationService(
		repos.Job,
		videoProvider,
		store,
		service.NewFFmpegWatermarker(cfg.FFmpegPath, logger),
		service.GenerationConfig{
			StagingDir:       cfg.StagingDir,
			WatermarkEnabled: cfg.WatermarkEnabled,
			Watermark: service.WatermarkOptions{
				Text:     cfg.WatermarkText,
				Position: constants.WatermarkPosition,
			},
		},
		logger,
	)

	// Fail jobs left processing by a previous run before the poller picks them up
	if n, err := generation.SweepStale(ctx, cfg.StaleJobAge); err != nil {
		logger.Warn("failed to sweep stale jobs", "error", err)
	} else if n > 0 {
		logger.Info("failed stale jobs from a previous run", "count", n)
	}

	// Start background poller for processing jobs
	var poller *worker.Worker
	if cfg.PollerEnabled {
		poller = worker.New(generation, worker.Config{
			PollInterval: cfg.PollerInterval,
			Concurrency:  cfg.PollerConcurrency,
			StaleAge:     cfg.StaleJobAge,
		}, logger)
		poller.Start(ctx)
	}

	cleanup := service.NewCleanupService(ledger, service.CleanupConfig{
		Interval:   cfg.CleanupInterval,
		FileMaxAge: cfg.StagingMaxAge,
		Dirs:       []string{cfg.StagingDir, cfg.UploadDir},
	}, logger)
	cleanup.Start(ctx)
	logger.Info("cleanup service started",
		"interval", cfg.CleanupInterval.String(),
		"file_max_age", cfg.StagingMaxAge.String(),
	)

	// Scale-to-zero: stop once idle, but never while jobs are still being polled
	idle := shutdown.NewIdleMonitor(shutdown.IdleConfig{
		Timeout:     cfg.IdleShutdownTimeout,
		IgnorePaths: []string{"/healthz", "/readyz", "/api/v1/health"},
		Busy: func() bool {
			return poller != nil && poller.Busy()
		},
		Logger: logger,
	})
	idle.Start(ctx)

	// Create router
	router := chi.NewRouter()
	router.Use(idle.Middleware)
	router.Use(middleware.RequestID)
	router.Use(mw.RealIP(cfg.TrustedProxies))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	// Uploads also wait on the provider's submit call
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          constants.DefaultRequestTimeout,
		Extended:         constants.SubmitRequestTimeout,
		ExtendedPatterns: []string{"/generations"},
		SkipWaitRequests: true,
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limit by IP; identity-based limits are applied on API routes
	router.Use(mw.RateLimitByIP(300))

	// Global concurrency throttle
	router.Use(middleware.Throttle(100))

	h := &routes.Handlers{
		Readyz: handlers.NewReadyzHandler(db).Readyz,
		Generation: handlers.NewGenerationHandler(admission, generation, handlers.GenerationHandlerConfig{
			UploadDir: cfg.UploadDir,
			BaseURL:   cfg.BaseURL,
		}, logger),
		Credit: handlers.NewCreditHandler(admission, credits, logger),
	}
	if cfg.StripeWebhookSecret != "" {
		h.StripeWebhook = handlers.NewStripeWebhookHandler(cfg.StripeWebhookSecret, credits, cfg.DefaultPurchaseCredit, logger).HandleWebhook
		logger.Info("stripe webhook endpoint enabled")
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set - purchases will not be credited")
	}

	routes.Mount(router, h, routes.Options{
		BaseURL: cfg.BaseURL,
		Identity: mw.IdentityConfig{
			JWTSecret:    []byte(cfg.JWTSecret),
			AddressKey:   cfg.IdentityKey,
			IsPrivileged: cfg.IsPrivileged,
			Logger:       logger,
		},
		RateLimit: mw.DefaultRateLimitConfig(),
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: constants.SubmitRequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigChan:
			logger.Info("shutting down server", "signal", sig.String())
		case <-idle.Idle():
			logger.Info("shutting down idle server")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		// Stop background work after in-flight requests have drained
		cancel()
		if poller != nil {
			poller.Stop()
		}
		cleanup.Stop()
		idle.Wait()
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"mode", cfg.DeploymentMode,
		"ledger", cfg.LedgerBackend,
		"storage", storage.IsEnabled(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-stopped
	logger.Info("server stopped")
}

// newLedgerStore selects the access-ledger backend. The returned func releases
// any connection it opened.
func newLedgerStore(ctx context.Context, cfg *config.Config, sqlite repository.LedgerStore, logger *slog.Logger) (repository.LedgerStore, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerBackendMemory:
		logger.Warn("using in-memory access ledger - free-use and anonymous credits are lost on restart")
		return repository.NewMemoryLedgerStore(), func() {}, nil
	case config.LedgerBackendRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewRedisLedgerStore(client, repository.RedisLedgerConfig{
			FreeTTL:  max(cfg.FreeEntryIdle, cfg.FreeCooldown),
			EmptyTTL: cfg.CreditEntryIdle,
		})
		return store, func() { _ = client.Close() }, nil
	default:
		return sqlite, func() {}, nil
	}
}
