package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeVerify AuthAbuseScope = "verify"
)

// AuthAbusePolicy describes the cooldown curve applied after repeated
// failures: FreeAttempts failures cost nothing, then each further failure
// waits BaseDelay*Multiplier^n, capped at MaxDelay. Counters are forgotten
// once ResetWindow passes without a failure.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 30 * time.Minute
	}
	return p
}

func (p AuthAbusePolicy) delayAfter(failures int) time.Duration {
	if failures <= p.FreeAttempts {
		return 0
	}
	power := math.Pow(p.Multiplier, float64(failures-p.FreeAttempts-1))
	delay := time.Duration(float64(p.BaseDelay) * power)
	if delay > p.MaxDelay || delay < 0 {
		return p.MaxDelay
	}
	return delay
}

// AuthAbuseGuard tracks failures per scope along two dimensions, the
// account identity and the client address. A cooldown on either blocks.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type NoopAuthAbuseGuard struct{}

func NewNoopAuthAbuseGuard() *NoopAuthAbuseGuard {
	return &NoopAuthAbuseGuard{}
}

func (NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}

type abuseCounter struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu       sync.Mutex
	policy   AuthAbusePolicy
	counters map[string]abuseCounter
	sweepAt  time.Time
	now      func() time.Time
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy:   policy.normalized(),
		counters: make(map[string]abuseCounter),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *InMemoryAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)

	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		longest = max(longest, g.remainingLocked(now, key.String()))
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)

	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		c := g.counters[key.String()]
		if c.lastFailure.IsZero() || now.Sub(c.lastFailure) > g.policy.ResetWindow {
			c.failures = 0
		}
		c.failures++
		c.lastFailure = now
		delay := g.policy.delayAfter(c.failures)
		c.cooldownUntil = now.Add(delay)
		g.counters[key.String()] = c
		longest = max(longest, delay)
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, key := range abuseKeys(scope, identity, ip) {
		delete(g.counters, key.String())
	}
	return nil
}

// sweepLocked drops counters that are past the reset window and no longer
// cooling down. It runs at most once per ResetWindow.
func (g *InMemoryAuthAbuseGuard) sweepLocked(now time.Time) {
	if now.Before(g.sweepAt) {
		return
	}
	for k, c := range g.counters {
		if now.Sub(c.lastFailure) > g.policy.ResetWindow && !now.Before(c.cooldownUntil) {
			delete(g.counters, k)
		}
	}
	g.sweepAt = now.Add(g.policy.ResetWindow)
}

func (g *InMemoryAuthAbuseGuard) remainingLocked(now time.Time, key string) time.Duration {
	c, ok := g.counters[key]
	if !ok {
		return 0
	}
	if now.Sub(c.lastFailure) > g.policy.ResetWindow {
		delete(g.counters, key)
		return 0
	}
	if !now.Before(c.cooldownUntil) {
		return 0
	}
	return c.cooldownUntil.Sub(now)
}

type abuseKey struct {
	scope AuthAbuseScope
	dim   string
	value string
}

func (k abuseKey) String() string {
	return string(k.scope) + ":" + k.dim + ":" + k.value
}

// abuseKeys returns the identity key first, then the address key.
func abuseKeys(scope AuthAbuseScope, identity, ip string) [2]abuseKey {
	id := strings.TrimSpace(strings.ToLower(identity))
	if id == "" {
		id = "anonymous"
	}
	addr := strings.TrimSpace(strings.ToLower(ip))
	if addr == "" {
		addr = "unknown"
	}
	return [2]abuseKey{
		{scope: scope, dim: "id", value: id},
		{scope: scope, dim: "ip", value: addr},
	}
}
