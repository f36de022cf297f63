package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner answers readiness by probing every dependency concurrently,
// each under its own timeout.
type ProbeRunner struct {
	checkers    []Checker
	timeout     time.Duration
	gracePeriod time.Duration
	startedAt   time.Time
}

// NewProbeRunner drops nil checkers so optional dependencies can be passed
// unconditionally.
func NewProbeRunner(timeout, gracePeriod time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	r := &ProbeRunner{timeout: timeout, gracePeriod: gracePeriod, startedAt: time.Now()}
	for _, c := range checkers {
		if c != nil {
			r.checkers = append(r.checkers, c)
		}
	}
	return r
}

// Ready reports results in checker order. A nil runner is always ready.
func (r *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if r == nil {
		return true, nil
	}
	if r.gracePeriod > 0 && time.Since(r.startedAt) < r.gracePeriod {
		return false, []CheckResult{{Name: "startup_grace", Error: "startup grace period active"}}
	}

	results := make([]CheckResult, len(r.checkers))
	var g errgroup.Group
	for i, c := range r.checkers {
		g.Go(func() error {
			results[i] = r.probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, res := range results {
		ready = ready && res.Healthy
	}
	return ready, results
}

func (r *ProbeRunner) probe(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res := c.Check(checkCtx)
	elapsed := time.Since(start)
	res.LatencyMS = elapsed.Milliseconds()

	outcome := "healthy"
	if !res.Healthy {
		outcome = "unhealthy"
	}
	observability.RecordHealthCheckDuration(ctx, res.Name, elapsed)
	observability.RecordHealthCheckResult(ctx, res.Name, outcome)
	return res
}
