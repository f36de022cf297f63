package observability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var redisInstrumentationOnce sync.Once

// InstrumentRedisClient installs command and pool metrics on the shared
// client. keyspaces maps a key prefix to the label reported for commands
// touching it, so limiter and abuse-guard traffic can be told apart.
// Instrumentation is installed once per process.
func InstrumentRedisClient(client redis.UniversalClient, logger *slog.Logger, keyspaces map[string]string) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	redisInstrumentationOnce.Do(func() {
		hook, err := newRedisMetricsHook(otel.Meter(meterName), client.PoolStats, keyspaces)
		if err != nil {
			logger.Warn("redis observability instrumentation disabled", "error", err)
			return
		}
		client.AddHook(hook)
		logger.Info("redis observability instrumentation enabled", "keyspaces", len(keyspaces))
	})
}

type redisMetricsHook struct {
	cmdTotal   metric.Int64Counter
	cmdErrors  metric.Int64Counter
	cmdLatency metric.Float64Histogram

	cmdTotalAtomic atomic.Int64
	cmdErrorAtomic atomic.Int64
	poolStats      func() *redis.PoolStats
	keyspaces      map[string]string
}

func newRedisMetricsHook(meter metric.Meter, poolStats func() *redis.PoolStats, keyspaces map[string]string) (*redisMetricsHook, error) {
	cmdTotal, err := meter.Int64Counter("redis.command.total", metric.WithDescription("Total number of Redis commands executed"))
	if err != nil {
		return nil, err
	}
	cmdErrors, err := meter.Int64Counter("redis.command.errors", metric.WithDescription("Total number of Redis command errors"))
	if err != nil {
		return nil, err
	}
	cmdLatency, err := meter.Float64Histogram("redis.command.duration", metric.WithUnit("s"), metric.WithDescription("Redis command latency in seconds"))
	if err != nil {
		return nil, err
	}
	poolSaturation, err := meter.Float64ObservableGauge(
		"redis.pool.saturation",
		metric.WithUnit("1"),
		metric.WithDescription("Redis pool saturation ratio (used_conns / total_conns)"),
	)
	if err != nil {
		return nil, err
	}
	errorRate, err := meter.Float64ObservableGauge(
		"redis.command.error_rate",
		metric.WithUnit("1"),
		metric.WithDescription("Redis command error rate (errors / total commands)"),
	)
	if err != nil {
		return nil, err
	}

	hook := &redisMetricsHook{
		cmdTotal:   cmdTotal,
		cmdErrors:  cmdErrors,
		cmdLatency: cmdLatency,
		poolStats:  poolStats,
		keyspaces:  keyspaces,
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		if hook.poolStats != nil {
			if stats := hook.poolStats(); stats != nil && stats.TotalConns > 0 {
				used := stats.TotalConns - stats.IdleConns
				observer.ObserveFloat64(poolSaturation, clampRatio(float64(used)/float64(stats.TotalConns)))
			}
		}
		if total := hook.cmdTotalAtomic.Load(); total > 0 {
			observer.ObserveFloat64(errorRate, clampRatio(float64(hook.cmdErrorAtomic.Load())/float64(total)))
		}
		return nil
	}, poolSaturation, errorRate)
	if err != nil {
		return nil, err
	}
	return hook, nil
}

func (h *redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isConnectionSetup(cmd) {
			return next(ctx, cmd)
		}
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(ctx, cmd, err, time.Since(start))
		return err
	}
}

func (h *redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.cmdLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("command", "pipeline"),
			attribute.String("status", redisCommandStatus(err)),
		))
		for _, cmd := range cmds {
			if isConnectionSetup(cmd) {
				continue
			}
			h.count(ctx, cmd, cmd.Err())
		}
		return err
	}
}

func (h *redisMetricsHook) observe(ctx context.Context, cmd redis.Cmder, err error, d time.Duration) {
	h.count(ctx, cmd, err)
	h.cmdLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("command", redisCommandName(cmd)),
		attribute.String("keyspace", h.keyspace(cmd)),
		attribute.String("status", redisCommandStatus(err)),
	))
}

func (h *redisMetricsHook) count(ctx context.Context, cmd redis.Cmder, err error) {
	command, keyspace := redisCommandName(cmd), h.keyspace(cmd)
	h.cmdTotalAtomic.Add(1)
	h.cmdTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("keyspace", keyspace),
		attribute.String("status", redisCommandStatus(err)),
	))
	if err != nil && !errors.Is(err, redis.Nil) {
		h.cmdErrorAtomic.Add(1)
		h.cmdErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("keyspace", keyspace),
			attribute.String("error_type", classifyRedisError(err)),
		))
	}
}

// isConnectionSetup reports handshake commands go-redis sends on every new
// connection. Older servers reject CLIENT SETINFO and MAINT_NOTIFICATIONS,
// which says nothing about the health of application traffic.
func isConnectionSetup(cmd redis.Cmder) bool {
	switch strings.ToLower(cmd.Name()) {
	case "hello", "client":
		return true
	}
	return false
}

// keyspace labels a command by the prefix of its first key. Scripts carry
// their keys after the sha and key count.
func (h *redisMetricsHook) keyspace(cmd redis.Cmder) string {
	args := cmd.Args()
	idx := 1
	if n := redisCommandName(cmd); n == "script" {
		idx = 3
	}
	if idx >= len(args) {
		return "none"
	}
	key, ok := args[idx].(string)
	if !ok {
		return "other"
	}
	prefix, _, _ := strings.Cut(key, ":")
	if label, ok := h.keyspaces[prefix]; ok {
		return label
	}
	return "other"
}

// Scripts are the bulk of traffic here; fold evalsha and eval into one label.
func redisCommandName(cmd redis.Cmder) string {
	name := strings.ToLower(cmd.Name())
	if name == "evalsha" || name == "eval" {
		return "script"
	}
	return name
}

func redisCommandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "miss"
	default:
		return "error"
	}
}

func classifyRedisError(err error) string {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.HasPrefix(errStr, "noscript"):
		return "noscript"
	default:
		return "other"
	}
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
