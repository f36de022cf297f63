package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/email-auth-api/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
)

const meterName = "email-auth-api"

type AppMetrics struct {
	authReqDuration              metric.Float64Histogram
	authFlowCounter              metric.Int64Counter
	accessTokenValidationCounter metric.Int64Counter
	validationFailureCounter     metric.Int64Counter
	rateLimitDecisionCounter     metric.Int64Counter
	rateLimitRetryAfter          metric.Float64Histogram
	abuseGuardCounter            metric.Int64Counter
	abuseGuardCooldown           metric.Float64Histogram
	mailDeliveryCounter          metric.Int64Counter
	mailDeliveryDuration         metric.Float64Histogram
	middlewareValidationCounter  metric.Int64Counter
	healthCheckResultCounter     metric.Int64Counter
	healthCheckDuration          metric.Float64Histogram
	databaseStartupCounter       metric.Int64Counter
	databaseStartupDuration      metric.Float64Histogram
	repositoryOpsCounter         metric.Int64Counter
	toolCommandRuns              metric.Int64Counter
	toolCommandDuration          metric.Float64Histogram
	loadgenRequestsCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithExemplarFilter(exemplar.TraceBasedFilter),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "auth.request.duration"},
			sdkmetric.Stream{
				// bcrypt dominates auth latency, so the upper buckets are wider than usual.
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
				},
			},
		)),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var firstErr error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("create counter %s: %w", name, err)
		}
		return c
	}
	hist := func(name, unit, desc string) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		h, err := meter.Float64Histogram(name, opts...)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("create histogram %s: %w", name, err)
		}
		return h
	}

	m := &AppMetrics{
		authReqDuration:              hist("auth.request.duration", "s", "Duration of auth endpoint requests in seconds"),
		authFlowCounter:              counter("auth.flow.events", "Auth flow outcomes by flow name"),
		accessTokenValidationCounter: counter("auth.access_token.validation.events", "Session token validation outcomes"),
		validationFailureCounter:     counter("auth.validation.failures", "Request payloads rejected by schema validation"),
		rateLimitDecisionCounter:     counter("http.rate_limit.decisions", "Rate limiter allow and deny decisions"),
		rateLimitRetryAfter:          hist("http.rate_limit.retry_after", "s", "Retry-after duration in seconds for throttled requests"),
		abuseGuardCounter:            counter("auth.abuse_guard.events", "Auth abuse guard checks and updates"),
		abuseGuardCooldown:           hist("auth.abuse_guard.cooldown", "s", "Cooldown duration returned by auth abuse guard"),
		mailDeliveryCounter:          counter("mail.delivery.events", "Verification email delivery outcomes"),
		mailDeliveryDuration:         hist("mail.delivery.duration", "s", "Duration of mail transport calls in seconds"),
		middlewareValidationCounter:  counter("http.middleware.validation.events", "Request validation outcomes in HTTP middleware"),
		healthCheckResultCounter:     counter("health.check.results", "Health dependency check results"),
		healthCheckDuration:          hist("health.check.duration", "s", "Duration of health dependency checks in seconds"),
		databaseStartupCounter:       counter("database.startup.events", "Database connect and migrate outcomes"),
		databaseStartupDuration:      hist("database.startup.duration", "s", "Duration of database startup phases in seconds"),
		repositoryOpsCounter:         counter("repository.operations", "Repository operation outcomes"),
		toolCommandRuns:              counter("tool.command.runs", "CLI tool command runs"),
		toolCommandDuration:          hist("tool.command.duration", "s", "Duration of CLI tool commands in seconds"),
		loadgenRequestsCounter:       counter("loadgen.requests", "Requests issued by the load generator"),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthRequestDuration(ctx context.Context, endpoint, status string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.authReqDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
}

// RecordAuthFlowEvent counts one outcome of register, login, logout,
// verification or password change.
func RecordAuthFlowEvent(ctx context.Context, flow, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.authFlowCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.accessTokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordValidationFailure(ctx context.Context, schema string) {
	m := current()
	if m == nil {
		return
	}
	m.validationFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("schema", schema)))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope string, retryAfter time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitRetryAfter.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(attribute.String("scope", scope)))
}

func RecordAuthAbuseGuardEvent(ctx context.Context, scope, action, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.abuseGuardCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func RecordAuthAbuseCooldown(ctx context.Context, scope, action string, cooldown time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.abuseGuardCooldown.Record(ctx, cooldown.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("action", action),
	))
}

func RecordMailDelivery(ctx context.Context, transport, outcome string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.mailDeliveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("outcome", outcome),
	))
	m.mailDeliveryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("transport", transport)))
}

func RecordMiddlewareValidationEvent(ctx context.Context, middleware, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.middlewareValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("middleware", middleware),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckResultCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckDuration(ctx context.Context, check string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("check", check)))
}

func RecordDatabaseStartupEvent(ctx context.Context, phase, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.databaseStartupCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
}

func RecordDatabaseStartupDuration(ctx context.Context, phase string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.databaseStartupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("phase", phase)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordToolCommandRun(ctx context.Context, tool, command, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.toolCommandRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func RecordToolCommandDuration(ctx context.Context, tool, command, outcome string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.toolCommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func RecordLoadgenRequest(ctx context.Context, statusClass, profile string) {
	m := current()
	if m == nil {
		return
	}
	m.loadgenRequestsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_class", statusClass),
		attribute.String("profile", profile),
	))
}
