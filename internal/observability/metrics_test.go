package observability

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sandeepkv93/email-auth-api/internal/config"
)

func recordEveryHelper(ctx context.Context) {
	RecordAuthRequestDuration(ctx, "login", "success", 10*time.Millisecond)
	RecordAuthFlowEvent(ctx, "verification_confirm", "expired")
	RecordAccessTokenValidation(ctx, "valid", "cookie")
	RecordValidationFailure(ctx, "register")
	RecordRateLimitDecision(ctx, "verify", "deny", "distributed")
	RecordRateLimitRetryAfter(ctx, "verify", 30*time.Second)
	RecordAuthAbuseGuardEvent(ctx, "login", "failure", "cooldown")
	RecordAuthAbuseCooldown(ctx, "login", "failure", time.Minute)
	RecordMailDelivery(ctx, "smtp", "rejected", 20*time.Millisecond)
	RecordMiddlewareValidationEvent(ctx, "cors", "preflight")
	RecordHealthCheckResult(ctx, "smtp", "unhealthy")
	RecordHealthCheckDuration(ctx, "smtp", 5*time.Millisecond)
	RecordDatabaseStartupEvent(ctx, "migrate", "success")
	RecordDatabaseStartupDuration(ctx, "migrate", 15*time.Millisecond)
	RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
	RecordToolCommandRun(ctx, "seed", "user", "success")
	RecordToolCommandDuration(ctx, "seed", "user", "success", 30*time.Millisecond)
	RecordLoadgenRequest(ctx, "4xx", "error-heavy")
}

func installManualMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newAppMetrics(provider.Meter("observability-test"))
	require.NoError(t, err)

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	t.Cleanup(func() {
		metricsMu.Lock()
		appMetrics = nil
		metricsMu.Unlock()
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

// attributeKeys returns the sorted attribute keys of the first data point of
// every collected instrument.
func attributeKeys(t *testing.T, reader *sdkmetric.ManualReader) map[string][]string {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string][]string{}
	keysOf := func(set attribute.Set) []string {
		var keys []string
		for _, kv := range set.ToSlice() {
			keys = append(keys, string(kv.Key))
		}
		sort.Strings(keys)
		return keys
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = keysOf(data.DataPoints[0].Attributes)
				}
			case metricdata.Histogram[float64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = keysOf(data.DataPoints[0].Attributes)
				}
			}
		}
	}
	return out
}

func TestRecordHelpersAreNoopsBeforeInit(t *testing.T) {
	metricsMu.Lock()
	appMetrics = nil
	metricsMu.Unlock()

	assert.NotPanics(t, func() { recordEveryHelper(context.Background()) })
}

func TestRecordHelpersUseBoundedLabels(t *testing.T) {
	reader := installManualMetrics(t)
	recordEveryHelper(context.Background())

	want := map[string][]string{
		"auth.request.duration":               {"endpoint", "status"},
		"auth.flow.events":                    {"flow", "outcome"},
		"auth.access_token.validation.events": {"outcome", "source"},
		"auth.validation.failures":            {"schema"},
		"http.rate_limit.decisions":           {"mode", "outcome", "scope"},
		"http.rate_limit.retry_after":         {"scope"},
		"auth.abuse_guard.events":             {"action", "outcome", "scope"},
		"auth.abuse_guard.cooldown":           {"action", "scope"},
		"mail.delivery.events":                {"outcome", "transport"},
		"mail.delivery.duration":              {"transport"},
		"http.middleware.validation.events":   {"middleware", "outcome"},
		"health.check.results":                {"check", "outcome"},
		"health.check.duration":               {"check"},
		"database.startup.events":             {"outcome", "phase"},
		"database.startup.duration":           {"phase"},
		"repository.operations":               {"entity", "operation", "outcome"},
		"tool.command.runs":                   {"command", "outcome", "tool"},
		"tool.command.duration":               {"command", "outcome", "tool"},
		"loadgen.requests":                    {"profile", "status_class"},
	}
	assert.Equal(t, want, attributeKeys(t, reader))
}

func TestInitMetricsDisabledReturnsProvider(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mp, err := InitMetrics(ctx, &config.Config{OTELMetricsEnabled: false}, logger)
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, mp.Shutdown(ctx))
}
