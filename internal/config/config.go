package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	DatabaseDriver string
	DatabaseURL    string

	JWTIssuer        string
	JWTAudience      string
	JWTSecret        string
	JWTTTL           time.Duration
	PasswordHashCost int

	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     string
	CookieTTL          time.Duration
	CORSAllowedOrigins []string

	MailTransport string
	MailFrom      string
	MailFromName  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPStartTLS  bool
	SMTPTimeout   time.Duration

	AuthRateLimitPerMin       int
	AuthVerifyRateLimitPerMin int
	APIRateLimitPerMin        int
	RateLimitRedisEnabled     bool
	RateLimitRedisPrefix      string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int

	AuthAbuseProtectionEnabled bool
	AuthAbuseFreeAttempts      int
	AuthAbuseBaseDelay         time.Duration
	AuthAbuseMultiplier        float64
	AuthAbuseMaxDelay          time.Duration
	AuthAbuseResetWindow       time.Duration
	AuthAbuseRedisPrefix       string

	ReadinessProbeTimeout        time.Duration
	ServerStartGracePeriod       time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELLogLevel              string
}

const (
	MailTransportLog  = "log"
	MailTransportSMTP = "smtp"

	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		Env:                       env,
		HTTPPort:                  getEnv("HTTP_PORT", "8080"),
		DatabaseDriver:            strings.ToLower(getEnv("DATABASE_DRIVER", DatabaseDriverPostgres)),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		JWTIssuer:                 getEnv("JWT_ISSUER", "email-auth-api"),
		JWTAudience:               getEnv("JWT_AUDIENCE", "email-auth-api-clients"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		PasswordHashCost:          getEnvInt("PASSWORD_HASH_COST", 10),
		CookieDomain:              os.Getenv("COOKIE_DOMAIN"),
		CookieSecure:              getEnvBool("COOKIE_SECURE", !isLocalLikeEnv(env)),
		CookieSameSite:            strings.ToLower(getEnv("COOKIE_SAMESITE", "lax")),
		CORSAllowedOrigins:        splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		MailTransport:             strings.ToLower(getEnv("MAIL_TRANSPORT", MailTransportLog)),
		MailFrom:                  strings.TrimSpace(os.Getenv("MAIL_FROM")),
		MailFromName:              getEnv("MAIL_FROM_NAME", "Email Auth"),
		SMTPHost:                  os.Getenv("SMTP_HOST"),
		SMTPPort:                  getEnvInt("SMTP_PORT", 587),
		SMTPUsername:              os.Getenv("SMTP_USERNAME"),
		SMTPPassword:              os.Getenv("SMTP_PASSWORD"),
		SMTPStartTLS:              getEnvBool("SMTP_STARTTLS", true),
		AuthRateLimitPerMin:       getEnvInt("AUTH_RATE_LIMIT_PER_MIN", 30),
		AuthVerifyRateLimitPerMin: getEnvInt("AUTH_VERIFY_RATE_LIMIT_PER_MIN", 5),
		APIRateLimitPerMin:        getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
		RateLimitRedisEnabled:     getEnvBool("RATE_LIMIT_REDIS_ENABLED", false),
		RateLimitRedisPrefix:      getEnv("RATE_LIMIT_REDIS_PREFIX", "rl"),
		RedisAddr:                 getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   getEnvInt("REDIS_DB", 0),

		AuthAbuseProtectionEnabled: getEnvBool("AUTH_ABUSE_PROTECTION_ENABLED", true),
		AuthAbuseFreeAttempts:      getEnvInt("AUTH_ABUSE_FREE_ATTEMPTS", 3),
		AuthAbuseMultiplier:        getEnvFloat("AUTH_ABUSE_MULTIPLIER", 2.0),
		AuthAbuseRedisPrefix:       getEnv("AUTH_ABUSE_REDIS_PREFIX", "auth_abuse"),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "email-auth-api"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", env),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELLogLevel:             strings.ToLower(getEnv("OTEL_LOG_LEVEL", "info")),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"JWT_TTL", "24h", &cfg.JWTTTL},
		{"COOKIE_TTL", "8h", &cfg.CookieTTL},
		{"SMTP_TIMEOUT", "10s", &cfg.SMTPTimeout},
		{"AUTH_ABUSE_BASE_DELAY", "2s", &cfg.AuthAbuseBaseDelay},
		{"AUTH_ABUSE_MAX_DELAY", "5m", &cfg.AuthAbuseMaxDelay},
		{"AUTH_ABUSE_RESET_WINDOW", "30m", &cfg.AuthAbuseResetWindow},
		{"READINESS_PROBE_TIMEOUT", "1s", &cfg.ReadinessProbeTimeout},
		{"SERVER_START_GRACE_PERIOD", "2s", &cfg.ServerStartGracePeriod},
		{"SHUTDOWN_TIMEOUT", "20s", &cfg.ShutdownTimeout},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s", &cfg.ShutdownHTTPDrainTimeout},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", "8s", &cfg.ShutdownObservabilityTimeout},
		{"OTEL_METRICS_EXPORT_INTERVAL", "10s", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		errs = append(errs, "DATABASE_DRIVER must be one of postgres, sqlite")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 chars")
	}
	if c.JWTTTL <= 0 || c.JWTTTL > 7*24*time.Hour {
		errs = append(errs, "JWT_TTL must be between 1s and 7d")
	}
	if c.PasswordHashCost < 4 || c.PasswordHashCost > 31 {
		errs = append(errs, "PASSWORD_HASH_COST must be between 4 and 31")
	}
	if c.CookieTTL <= 0 {
		errs = append(errs, "COOKIE_TTL must be > 0")
	}
	switch c.CookieSameSite {
	case "lax", "strict", "none":
	default:
		errs = append(errs, "COOKIE_SAMESITE must be one of lax, strict, none")
	}
	if c.CookieSameSite == "none" && !c.CookieSecure && !isLocalLikeEnv(c.Env) {
		errs = append(errs, "COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}
	if c.MailFrom == "" {
		errs = append(errs, "MAIL_FROM is required")
	}
	switch c.MailTransport {
	case MailTransportLog:
	case MailTransportSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, "SMTP_HOST is required when MAIL_TRANSPORT=smtp")
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, "SMTP_PORT must be a valid port")
		}
		if c.SMTPTimeout <= 0 {
			errs = append(errs, "SMTP_TIMEOUT must be > 0")
		}
	default:
		errs = append(errs, "MAIL_TRANSPORT must be one of log, smtp")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.AuthVerifyRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_VERIFY_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RateLimitRedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "REDIS_ADDR is required when RATE_LIMIT_REDIS_ENABLED=true")
	}
	if c.AuthAbuseProtectionEnabled {
		if c.AuthAbuseFreeAttempts < 0 {
			errs = append(errs, "AUTH_ABUSE_FREE_ATTEMPTS must be >= 0")
		}
		if c.AuthAbuseBaseDelay <= 0 {
			errs = append(errs, "AUTH_ABUSE_BASE_DELAY must be > 0")
		}
		if c.AuthAbuseMultiplier < 1 {
			errs = append(errs, "AUTH_ABUSE_MULTIPLIER must be >= 1")
		}
		if c.AuthAbuseMaxDelay < c.AuthAbuseBaseDelay {
			errs = append(errs, "AUTH_ABUSE_MAX_DELAY must be >= AUTH_ABUSE_BASE_DELAY")
		}
		if c.AuthAbuseResetWindow <= 0 {
			errs = append(errs, "AUTH_ABUSE_RESET_WINDOW must be > 0")
		}
	}
	if c.ReadinessProbeTimeout <= 0 {
		errs = append(errs, "READINESS_PROBE_TIMEOUT must be > 0")
	}
	if c.ServerStartGracePeriod < 0 {
		errs = append(errs, "SERVER_START_GRACE_PERIOD must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.ShutdownHTTPDrainTimeout <= 0 || c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout {
		errs = append(errs, "SHUTDOWN_HTTP_DRAIN_TIMEOUT must be > 0 and <= SHUTDOWN_TIMEOUT")
	}
	if c.ShutdownObservabilityTimeout <= 0 || c.ShutdownObservabilityTimeout > c.ShutdownTimeout {
		errs = append(errs, "SHUTDOWN_OBSERVABILITY_TIMEOUT must be > 0 and <= SHUTDOWN_TIMEOUT")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if !isLocalLikeEnv(c.Env) {
		errs = append(errs, c.validateProductionProfile()...)
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProductionProfile() []string {
	var errs []string
	if !c.CookieSecure {
		errs = append(errs, "COOKIE_SECURE must be true outside local environments")
	}
	if c.MailTransport == MailTransportLog {
		errs = append(errs, "MAIL_TRANSPORT=log is not allowed outside local environments")
	}
	if c.DatabaseDriver == DatabaseDriverSQLite {
		errs = append(errs, "DATABASE_DRIVER=sqlite is not allowed outside local environments")
	}
	return errs
}

// IsLocal reports whether the process runs in a development-like environment.
func (c *Config) IsLocal() bool {
	return isLocalLikeEnv(c.Env)
}

func isLocalLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
