package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/authgate/internal/auth"
	"github.com/BradenHooton/authgate/internal/background"
	"github.com/BradenHooton/authgate/internal/config"
	"github.com/BradenHooton/authgate/internal/database"
	"github.com/BradenHooton/authgate/internal/handlers"
	"github.com/BradenHooton/authgate/internal/identity"
	middlewareCustom "github.com/BradenHooton/authgate/internal/middleware"
	"github.com/BradenHooton/authgate/internal/repositories"
	"github.com/BradenHooton/authgate/internal/routes"
	"github.com/BradenHooton/authgate/internal/services"
	"github.com/BradenHooton/authgate/internal/turnstile"
	pkghttp "github.com/BradenHooton/authgate/pkg/http"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if *migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := database.Migrate(ctx, cfg.Database.DSN(), logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	loginActivityRepo := repositories.NewLoginActivityRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(loginAttemptRepo, logger, cfg.Cleanup.Interval, cfg.Cleanup.AttemptRetention)

	// Lockout notification email is optional
	var notifier services.LockoutNotifier
	if cfg.Email.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesNotifier, err := services.NewSESLockoutNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Gateway.AppBaseURL, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		logger.Info("LOCKOUT_NOTIFY_FROM not set, lockout emails disabled")
	}

	if cfg.Gateway.TurnstileSecret == "" {
		logger.Warn("TURNSTILE_SECRET_KEY not set, every bot check will be rejected")
	}

	// Upstream clients
	identityClient := identity.NewClient(cfg.Gateway.IdentityURL, cfg.Gateway.IdentityAnonKey, cfg.Gateway.UpstreamTimeout)
	turnstileClient := turnstile.NewClient(cfg.Gateway.TurnstileSecret, cfg.Gateway.TurnstileVerifyURL, cfg.Gateway.UpstreamTimeout)

	// Timing delay for failed logins
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Gateway.FailureDelayMs,
		RandomDelayMs: cfg.Gateway.FailureJitterMs,
	})

	// Initialize services
	rateLimitService := services.NewRateLimitService(loginAttemptRepo, logger)
	lockoutService := services.NewLockoutService(lockoutRepo, notifier, logger)
	auditService := services.NewAuditService(loginAttemptRepo, loginActivityRepo, logger)
	mfaService := services.NewMFAService(identityClient, logger)
	gatewayService := services.NewGatewayService(
		identityClient,
		turnstileClient,
		rateLimitService,
		lockoutService,
		mfaService,
		auditService,
		timingDelay,
		services.GatewayConfig{
			ResetRedirectURL: cfg.Gateway.AppBaseURL + "/reset-password",
			LockoutDuration:  cfg.Gateway.LockoutDuration,
		},
		logger,
	)

	// Initialize handlers
	gatewayHandler := handlers.NewGatewayHandler(gatewayService, logger)
	healthHandler := handlers.NewHealthHandler(db, logger)

	ipConfig, invalid := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	for _, cidr := range invalid {
		logger.Warn("ignoring invalid trusted proxy range", slog.String("cidr", cidr))
	}

	// Setup router
	router := routes.NewRouter(routes.Config{
		Env:        cfg.Server.Env,
		AppBaseURL: cfg.Gateway.AppBaseURL,
		IPConfig:   ipConfig,
		RateLimit:  middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Gateway.IPLimitPerMinute},
	}, gatewayHandler, healthHandler, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
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

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
