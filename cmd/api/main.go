package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/kvstore"
	middlewareCustom "github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// eventBufferSize bounds queued security events before they are dropped
const eventBufferSize = 1024

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database (applies migrations when enabled)
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Shared KV store for counters, trust markers, sessions and the token blacklist
	redisClient, err := kvstore.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()
	store := kvstore.NewStore(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.OpTimeout)

	// Security primitives
	hasher, err := pkgauth.NewHasher(pkgauth.DefaultArgon2Params)
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}

	totp, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		SigningKey:    cfg.Auth.SigningKey,
		KeyID:         cfg.Auth.KeyID,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		AccessExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshExpiry: cfg.Auth.RefreshTokenExpiry,
	}, store)
	if err != nil {
		logger.Error("failed to initialize token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)

	// Security events are written off the request path
	sinks := pkglogger.MultiSink{pkglogger.NewAuditLogger(logger)}
	if cfg.Auth.PersistEvents {
		sinks = append(sinks, repositories.NewSecurityEventRepository(db, logger))
	}
	events := pkglogger.NewDispatcher(sinks, eventBufferSize)

	// Initialize services
	credentials := services.NewCredentialService(accountRepo, hasher, cfg.Lockout.Login, logger)
	lockout := services.NewLockoutService(store, cfg.Lockout, logger)
	devices := services.NewDeviceTrustService(store, cfg.Auth.DeviceTrustWindow)
	mfa := services.NewMFAService(accountRepo, totp, store, logger)
	sessions := services.NewSessionService(store, cfg.Auth.DeviceTrustWindow, cfg.MFA.ChallengeTTL)

	authService := services.NewAuthService(
		credentials, lockout, devices, mfa, sessions,
		tokenIssuer, timingDelay, events,
		services.AuthServiceConfig{
			SubmissionSkew:       cfg.MFA.SubmissionSkew,
			EnforceDeviceBinding: cfg.Auth.EnforceDeviceBinding,
		},
		logger,
	)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig, auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}, logger)

	// Setup router. Client addresses come from pkghttp.ExtractClientIP, which only
	// trusts forwarding headers from configured proxies, so chi's RealIP is not used.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, authHandler, tokenIssuer, routes.RouteConfig{
		PublicLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.RequestsPerMin,
			IPConfig:          ipConfig,
		},
		AuthenticatedLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: 3 * cfg.Server.RequestsPerMin,
			IPConfig:          ipConfig,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	// Health check with database and KV store
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up", "kv_store": "up"}
		code := http.StatusOK
		if err := db.HealthCheck(ctx); err != nil {
			status["database"], status["status"], code = "down", "unhealthy", http.StatusServiceUnavailable
		}
		if err := store.HealthCheck(ctx); err != nil {
			status["kv_store"], status["status"], code = "down", "unhealthy", http.StatusServiceUnavailable
		}
		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start lock sweep
	cleanupManager := background.NewCleanupManager(credentials, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// flush queued security events after the last request has finished
	events.Close()
	if dropped := events.Dropped(); dropped > 0 {
		logger.Warn("security events dropped", slog.Uint64("count", dropped))
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

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, repo *repositories.AccountRepository, hasher *pkgauth.Hasher, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	_, err := repo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}
	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if _, err := repo.Create(ctx, &models.Account{
		Email:        adminEmail,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
