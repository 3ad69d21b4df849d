package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/background"
	"github.com/rowanvale/sentinel/internal/config"
	"github.com/rowanvale/sentinel/internal/database"
	"github.com/rowanvale/sentinel/internal/handlers"
	middlewareCustom "github.com/rowanvale/sentinel/internal/middleware"
	"github.com/rowanvale/sentinel/internal/repositories"
	"github.com/rowanvale/sentinel/internal/routes"
	"github.com/rowanvale/sentinel/internal/services"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
	pkglogger "github.com/rowanvale/sentinel/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply schema migrations before opening the pool
	if err := database.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize store
	store := repositories.NewStore(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(store, logger, cfg.Auth.CleanupInterval, cfg.Auth.LockoutWindow)

	// Session validation and two-step login challenges
	sessionValidator := auth.NewSessionValidator(store.Credentials())
	challengeManager := auth.NewChallengeTokenManager(cfg.Auth.ChallengeSecret, cfg.Auth.ChallengeExpiry)

	// TOTP manager with encrypted secrets at rest
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TotpEncryptionKey, cfg.Auth.TotpIssuer, cfg.Auth.TotpSkew)
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Security services
	auditLogger := pkglogger.NewAuditLogger(logger)

	lockoutService := services.NewLockoutService(services.LockoutConfig{
		MaxAttempts: cfg.Auth.LockoutMaxAttempts,
		Window:      cfg.Auth.LockoutWindow,
	}, logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	codeService := services.NewVerificationCodeService(
		store,
		emailService,
		services.NewTemplateResolver(),
		cfg.Auth.CodeCooldown,
		services.DefaultCodePolicies(),
		logger,
	)
	totpService := services.NewTotpService(store, totpManager, lockoutService, cfg.Auth.BackupCodeCount, logger)
	emailFactorService := services.NewEmailFactorService(store, codeService, logger)
	loginService := services.NewLoginService(store, challengeManager, totpManager, lockoutService, codeService, timingDelay, auditLogger, logger)
	accountService := services.NewAccountService(store, codeService, auditLogger, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, accountService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)
	factorHandler := handlers.NewFactorHandler(totpService, emailFactorService)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, accountHandler, factorHandler, sessionValidator)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
