package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig(env string) *Config {
	return &Config{
		Env:                          env,
		DatabaseDriver:               DatabaseDriverPostgres,
		DatabaseURL:                  "postgres://x",
		JWTSecret:                    "abcdefghijklmnopqrstuvwxyz123456",
		JWTTTL:                       24 * time.Hour,
		PasswordHashCost:             10,
		CookieSecure:                 true,
		CookieSameSite:               "lax",
		CookieTTL:                    8 * time.Hour,
		MailTransport:                MailTransportSMTP,
		MailFrom:                     "no-reply@example.com",
		SMTPHost:                     "smtp.example.com",
		SMTPPort:                     587,
		SMTPTimeout:                  10 * time.Second,
		AuthRateLimitPerMin:          30,
		AuthVerifyRateLimitPerMin:    5,
		APIRateLimitPerMin:           120,
		AuthAbuseProtectionEnabled:   true,
		AuthAbuseFreeAttempts:        3,
		AuthAbuseBaseDelay:           2 * time.Second,
		AuthAbuseMultiplier:          2,
		AuthAbuseMaxDelay:            5 * time.Minute,
		AuthAbuseResetWindow:         30 * time.Minute,
		OTELTraceSamplingRatio:       1.0,
		OTELMetricsExportInterval:    10 * time.Second,
		OTELLogLevel:                 "info",
		ReadinessProbeTimeout:        1 * time.Second,
		ShutdownTimeout:              20 * time.Second,
		ShutdownHTTPDrainTimeout:     10 * time.Second,
		ShutdownObservabilityTimeout: 8 * time.Second,
	}
}

func TestValidateAcceptsCompleteProductionConfig(t *testing.T) {
	if err := validConfig("production").Validate(); err != nil {
		t.Fatalf("expected valid production config: %v", err)
	}
}

func TestValidateProdProfileStrictRules(t *testing.T) {
	cfg := validConfig("production")
	cfg.CookieSecure = false
	cfg.CookieSameSite = "none"
	cfg.MailTransport = MailTransportLog
	cfg.DatabaseDriver = DatabaseDriverSQLite

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected strict prod validation errors")
	}
	for _, want := range []string{
		"COOKIE_SECURE must be true",
		"COOKIE_SAMESITE=none requires COOKIE_SECURE=true",
		"MAIL_TRANSPORT=log is not allowed",
		"DATABASE_DRIVER=sqlite is not allowed",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidateRejectsLogMailTransportOutsideLocal(t *testing.T) {
	for _, env := range []string{"staging", "production"} {
		cfg := validConfig(env)
		cfg.MailTransport = MailTransportLog
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "MAIL_TRANSPORT=log is not allowed") {
			t.Fatalf("%s: expected log transport to be refused, got %v", env, err)
		}
	}
}

func TestValidateDevelopmentProfileAllowsRelaxedSettings(t *testing.T) {
	cfg := validConfig("development")
	cfg.CookieSecure = false
	cfg.CookieSameSite = "none"
	cfg.MailTransport = MailTransportLog
	cfg.DatabaseDriver = DatabaseDriverSQLite

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected relaxed dev validation to pass: %v", err)
	}
}

func TestValidateRejectsShortSecretAndMissingSender(t *testing.T) {
	cfg := validConfig("development")
	cfg.JWTSecret = "short"
	cfg.MailFrom = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET must be at least 32 chars") {
		t.Fatalf("missing secret error: %v", err)
	}
	if !strings.Contains(err.Error(), "MAIL_FROM is required") {
		t.Fatalf("missing sender error: %v", err)
	}
}

func TestValidateSMTPTransportRequiresHost(t *testing.T) {
	cfg := validConfig("development")
	cfg.SMTPHost = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SMTP_HOST is required") {
		t.Fatalf("expected SMTP_HOST error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("JWT_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	t.Setenv("MAIL_FROM", "no-reply@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.JWTTTL)
	}
	if cfg.CookieTTL != 8*time.Hour {
		t.Fatalf("expected 8h cookie ttl, got %s", cfg.CookieTTL)
	}
	if cfg.PasswordHashCost != 10 {
		t.Fatalf("expected cost 10, got %d", cfg.PasswordHashCost)
	}
	if cfg.CookieSecure {
		t.Fatal("expected insecure cookies in a local environment by default")
	}
	if cfg.MailTransport != MailTransportLog {
		t.Fatalf("expected log transport, got %q", cfg.MailTransport)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_TTL", "forever")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse JWT_TTL") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}
