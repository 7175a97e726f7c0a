package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/background"
	"github.com/BradenHooton/parlourguard/internal/config"
	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/keylock"
	middlewareCustom "github.com/BradenHooton/parlourguard/internal/middleware"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
	"github.com/BradenHooton/parlourguard/internal/repositories"
	"github.com/BradenHooton/parlourguard/internal/risk"
	"github.com/BradenHooton/parlourguard/internal/routes"
	"github.com/BradenHooton/parlourguard/internal/services"
	"github.com/BradenHooton/parlourguard/internal/store/memory"
	"github.com/BradenHooton/parlourguard/internal/tracing"
	"github.com/BradenHooton/parlourguard/internal/verifier"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

type auditStore interface {
	services.AuditRepository
	services.AuditReader
}

// stores is the persistence layer selected by STORAGE_BACKEND and LOCKOUT_BACKEND
type stores struct {
	challenges   services.ChallengeRepository
	approvals    verifier.ApprovalStore
	lockouts     services.LockoutRepository
	sessions     services.SessionRepository
	audit        auditStore
	credentials  services.CredentialRepository
	riskProfiles risk.Persister
	healthChecks map[string]handlers.HealthCheck
	closers      []func()
}

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("invalid LOG_LEVEL, using info", slog.String("value", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("lockout", cfg.Lockout.Backend),
	)

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SamplingRate)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		for _, c := range st.closers {
			c()
		}
	}()

	// Notifications
	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize notifiers", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		BufferSize: cfg.Notification.BufferSize,
		Workers:    cfg.Notification.Workers,
	}, logger)

	// Verifiers
	var cipher *verifier.SecretCipher
	if len(cfg.Challenge.OTPEncryptionKey) > 0 {
		cipher, err = verifier.NewSecretCipher(cfg.Challenge.OTPEncryptionKey)
		if err != nil {
			logger.Error("failed to initialize OTP cipher", slog.Any("error", err))
			os.Exit(1)
		}
	}
	registry := verifier.NewRegistry(
		verifier.NewCaptchaVerifier(verifier.CaptchaConfig{
			VerifyURL:  cfg.Captcha.VerifyURL,
			Secret:     cfg.Captcha.Secret,
			Timeout:    cfg.Captcha.Timeout,
			Production: cfg.Server.IsProduction(),
		}),
		verifier.NewOTPVerifier(cfg.Challenge.OTPIssuer, verifier.ChannelEmail, cipher),
		verifier.NewOTPVerifier(cfg.Challenge.OTPIssuer, verifier.ChannelPhone, cipher),
		verifier.NewApprovalVerifier(st.approvals),
	)

	// Risk engine
	riskEngine := risk.NewEngine(
		risk.NewStore(cfg.Risk.Shards, st.riskProfiles, logger),
		risk.EngineConfig{
			Location:          cfg.Risk.Location,
			MaxKnownDevices:   cfg.Risk.MaxKnownDevices,
			MaxKnownLocations: cfg.Risk.MaxKnownLocations,
		},
		logger,
	)

	// Initialize services
	auditService := services.NewAuditService(st.audit, dispatcher, logger)
	challengeService := services.NewChallengeService(st.challenges, riskEngine, registry, auditService, dispatcher,
		keylock.New(0), services.ChallengeConfig{
			TTL:                cfg.Challenge.TTL,
			MaxAttempts:        cfg.Challenge.MaxAttempts,
			ApprovalConsoleURL: cfg.Challenge.ApprovalConsoleURL,
		}, logger)
	lockoutService := services.NewLockoutService(st.lockouts, auditService, models.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Duration:    cfg.Lockout.Duration,
	}, logger)
	sessionService := services.NewSessionService(st.sessions, auditService, services.SessionConfig{
		MaxConcurrent:     cfg.Session.MaxConcurrent,
		TTL:               cfg.Session.TTL,
		InactivityTimeout: cfg.Session.InactivityTimeout,
	}, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Floor:  cfg.Auth.TimingFloor,
		Jitter: cfg.Auth.TimingJitter,
	})

	authService := services.NewAuthService(st.credentials, lockoutService, sessionService, challengeService, riskEngine,
		auditService, tokenManager, timingDelay, services.AuthConfig{AllowLowRiskBypass: cfg.Challenge.AllowLowRiskBypass}, logger)
	reportService := services.NewReportService(st.audit,
		services.NewBaselineBehaviorAnalyzer(cfg.Risk.Location),
		services.NewHotspotAnalyzer(cfg.Report.HotspotLimit),
		services.ReportConfig{MaxWindow: cfg.Report.MaxWindow, BaselineWindow: cfg.Report.BaselineWindow},
		logger)

	// Bootstrap first administrator if configured
	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := authService.BootstrapAdmin(bootCtx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
		logger.Error("failed to ensure bootstrap administrator", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Auth:       handlers.NewAuthHandler(authService, ipConfig, logger),
		Challenges: handlers.NewChallengeHandler(challengeService, ipConfig, logger),
		Sessions:   handlers.NewSessionHandler(sessionService, logger),
		Risk:       handlers.NewRiskHandler(riskEngine),
		Reports:    handlers.NewReportHandler(reportService, logger),
		Audit:      handlers.NewAuditHandler(auditService, ipConfig, logger),
		Health:     handlers.NewHealthHandler(st.healthChecks),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, routes.Dependencies{
		TokenManager: tokenManager,
		Sessions:     sessionService,
		AuditTrail:   auditService,
		IPConfig:     ipConfig,
		RateLimits: routes.RateLimits{
			Login:         middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.RateLimit.LoginPerMinute},
			Verify:        middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.RateLimit.VerifyPerMinute},
			Authenticated: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.RateLimit.AuthenticatedPerMinute},
		},
		Logger: logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionService, lockoutService, challengeService, logger, cfg.Storage.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
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

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Drain queued notifications after the last request has finished
	dispatcher.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

// openStores connects the configured backends and runs migrations
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{healthChecks: map[string]handlers.HealthCheck{}}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)

		if err := database.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		challenges := repositories.NewChallengeRepository(db)
		st.challenges = challenges
		st.approvals = challenges
		st.sessions = repositories.NewSessionRepository(db)
		st.audit = repositories.NewAuditRepository(db)
		st.credentials = repositories.NewCredentialRepository(db)
		st.riskProfiles = repositories.NewRiskProfileRepository(db)
		st.lockouts = repositories.NewLockoutRepository(db)
		st.healthChecks["database"] = db.HealthCheck

	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		challenges := memory.NewChallengeStore()
		st.challenges = challenges
		st.approvals = challenges
		st.sessions = memory.NewSessionStore()
		st.audit = memory.NewAuditStore()
		st.credentials = memory.NewCredentialStore()
		st.lockouts = memory.NewLockoutStore()
	}

	switch cfg.Lockout.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st.closers = append(st.closers, func() { client.Close() })
		st.lockouts = repositories.NewRedisLockoutRepository(client)
		st.healthChecks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	case config.BackendMemory:
		st.lockouts = memory.NewLockoutStore()
	}

	return st, nil
}

// buildNotifier fans out to every configured channel
func buildNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	var multi notify.MultiNotifier
	for _, name := range cfg.Notification.Notifiers {
		switch name {
		case "log":
			multi = append(multi, notify.NewLogNotifier(logger))
		case "ses":
			n, err := notify.NewSESNotifier(ctx, cfg.Notification.SESRegion, cfg.Notification.FromAddress, cfg.Notification.AdminEmails)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize SES notifier: %w", err)
			}
			multi = append(multi, n)
		case "webhook":
			multi = append(multi, notify.NewWebhookNotifier(cfg.Notification.WebhookURL, 5*time.Second))
		case "sms":
			multi = append(multi, notify.NewSMSGatewayNotifier(cfg.Notification.SMSURL, 5*time.Second))
		}
	}
	if len(multi) == 1 {
		return multi[0], nil
	}
	return multi, nil
}
