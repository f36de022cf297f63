package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/email-auth-api/internal/app"
	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/database"
	"github.com/sandeepkv93/email-auth-api/internal/health"
	"github.com/sandeepkv93/email-auth-api/internal/http/handler"
	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
	"github.com/sandeepkv93/email-auth-api/internal/http/router"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/repository"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	"github.com/sandeepkv93/email-auth-api/internal/service"
	"github.com/sandeepkv93/email-auth-api/internal/validation"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(repository.NewUserRepository)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	provideCookieManager,
	providePasswordHasher,
	provideVerificationCodes,
	provideTokenExtractor,
)

var ServiceSet = wire.NewSet(
	provideValidator,
	provideMailer,
	provideAuthAbuseGuard,
	service.NewAuthService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
)

var HTTPSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewSystemHandler,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideVerifyRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

// MigrationRunner applies the schema without starting the server.
type MigrationRunner struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *slog.Logger
}

func NewMigrationRunner(cfg *config.Config, db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, db: db, logger: observability.NewBootstrapLogger(cfg)}
}

// Run migrates and releases the connection.
func (m *MigrationRunner) Run() error {
	defer func() {
		if sqlDB, err := m.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	m.logger.Info("migration complete", "driver", m.cfg.DatabaseDriver)
	return nil
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// provideRedisClient returns nil unless Redis-backed limiting is enabled.
// The same client backs the abuse guard.
func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RateLimitRedisEnabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,

		// Skip CLIENT SETINFO; Redis below 7.2 rejects it.
		DisableIdentity: true,
	})
	observability.InstrumentRedisClient(client, logger, map[string]string{
		cfg.RateLimitRedisPrefix: "rate_limit",
		cfg.AuthAbuseRedisPrefix: "abuse_guard",
	})
	return client
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret, cfg.JWTTTL)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.CookieSameSite, cfg.CookieTTL)
}

func providePasswordHasher(cfg *config.Config) security.PasswordHasher {
	return security.NewBcryptHasher(cfg.PasswordHashCost)
}

// The HMAC key for code fingerprints is the signing secret.
func provideVerificationCodes(cfg *config.Config) *security.VerificationCodes {
	return security.NewVerificationCodes(cfg.JWTSecret)
}

func provideTokenExtractor() middleware.TokenExtractor {
	return middleware.ClientAwareExtractor{}
}

func provideValidator() (validation.Validator, error) {
	v, err := validation.Default()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func provideMailer(cfg *config.Config, logger *slog.Logger) service.Mailer {
	return service.NewMailer(cfg, logger)
}

func provideAuthAbuseGuard(cfg *config.Config, redisClient redis.UniversalClient) service.AuthAbuseGuard {
	if !cfg.AuthAbuseProtectionEnabled {
		return service.NewNoopAuthAbuseGuard()
	}
	policy := service.AuthAbusePolicy{
		FreeAttempts: cfg.AuthAbuseFreeAttempts,
		BaseDelay:    cfg.AuthAbuseBaseDelay,
		Multiplier:   cfg.AuthAbuseMultiplier,
		MaxDelay:     cfg.AuthAbuseMaxDelay,
		ResetWindow:  cfg.AuthAbuseResetWindow,
	}
	if redisClient != nil {
		return service.NewRedisAuthAbuseGuard(redisClient, cfg.AuthAbuseRedisPrefix, policy)
	}
	return service.NewInMemoryAuthAbuseGuard(policy)
}

func newLimiter(cfg *config.Config, redisClient redis.UniversalClient, scope string, limit int, mode middleware.FailureMode, keyFunc middleware.KeyFunc) func(http.Handler) http.Handler {
	limiter := middleware.NewLocalFixedWindowLimiter()
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix)
	}
	return middleware.NewDistributedRateLimiterWithKey(limiter, limit, time.Minute, mode, scope, keyFunc).Middleware()
}

// The global limiter fails open so a Redis outage does not take down the API.
func provideGlobalRateLimiter(cfg *config.Config, redisClient redis.UniversalClient, extractor middleware.TokenExtractor, jwt *security.JWTManager) router.GlobalRateLimiterFunc {
	return newLimiter(cfg, redisClient, "api", cfg.APIRateLimitPerMin, middleware.FailOpen, middleware.SubjectOrIPKeyFunc(extractor, jwt))
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.AuthRateLimiterFunc {
	return newLimiter(cfg, redisClient, "auth", cfg.AuthRateLimitPerMin, middleware.FailClosed, nil)
}

// Verification mail is keyed per account when a valid token is present.
func provideVerifyRateLimiter(cfg *config.Config, redisClient redis.UniversalClient, extractor middleware.TokenExtractor, jwt *security.JWTManager) router.VerifyRateLimiterFunc {
	return newLimiter(cfg, redisClient, "verify", cfg.AuthVerifyRateLimitPerMin, middleware.FailClosed, middleware.SubjectOrIPKeyFunc(extractor, jwt))
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	systemHandler *handler.SystemHandler,
	jwt *security.JWTManager,
	extractor middleware.TokenExtractor,
	globalRateLimiter router.GlobalRateLimiterFunc,
	authRateLimiter router.AuthRateLimiterFunc,
	verifyRateLimiter router.VerifyRateLimiterFunc,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:        authHandler,
		SystemHandler:      systemHandler,
		JWTManager:         jwt,
		TokenExtractor:     extractor,
		CORSOrigins:        cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:   cfg.AuthRateLimitPerMin,
		VerifyRateLimitRPM: cfg.AuthVerifyRateLimitPerMin,
		APIRateLimitRPM:    cfg.APIRateLimitPerMin,
		GlobalRateLimiter:  globalRateLimiter,
		AuthRateLimiter:    authRateLimiter,
		VerifyRateLimiter:  verifyRateLimiter,
		EnableOTelHTTP:     cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, mailer service.Mailer) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if cfg.RateLimitRedisEnabled {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	if pinger, ok := mailer.(health.Pinger); ok && cfg.MailTransport == config.MailTransportSMTP {
		checkers = append(checkers, health.NewSMTPChecker(pinger))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}
