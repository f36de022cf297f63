package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/email-auth-api/internal/http/response"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/security"
)

// Decision is the outcome of one limiter evaluation.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

type fixedWindow struct {
	count       int
	windowStart time.Time
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	store   map[string]*fixedWindow
	cleanup time.Time
	now     func() time.Time
}

type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
	keyFunc KeyFunc
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		store:   make(map[string]*fixedWindow),
		cleanup: time.Now().Add(time.Minute),
		now:     time.Now,
	}
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalFixedWindowLimiter(), limit, window, FailClosed, scope)
}

func NewDistributedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	return NewDistributedRateLimiterWithKey(limiter, limit, window, mode, scope, clientIPKey)
}

func NewDistributedRateLimiterWithKey(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string, keyFunc KeyFunc) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		limit:   limit,
		window:  window,
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.scope + ":" + rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error_allowed", string(rl.mode))
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"mode", string(rl.mode),
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error_denied", string(rl.mode))
				w.Header().Set("Retry-After", retryAfterHeader(rl.window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
				return
			}

			rl.writeHeaders(w, decision)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "denied", string(rl.mode))
				observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, decision.RetryAfter)
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allowed", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) writeHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	resetAt := d.ResetAt
	if resetAt.IsZero() {
		resetAt = time.Now().Add(rl.window)
	}
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func (rl *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if now.Sub(v.windowStart) > 2*window {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(window)
	}

	entry, ok := rl.store[key]
	if !ok || now.Sub(entry.windowStart) >= window {
		entry = &fixedWindow{windowStart: now}
		rl.store[key] = entry
	}
	resetAt := entry.windowStart.Add(window)
	if entry.count >= limit {
		return Decision{
			Allowed:    false,
			RetryAfter: max(resetAt.Sub(now), 0),
			Remaining:  0,
			ResetAt:    resetAt,
		}, nil
	}
	entry.count++
	return Decision{Allowed: true, Remaining: limit - entry.count, ResetAt: resetAt}, nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// SubjectOrIPKeyFunc keys authenticated callers by user id so a shared NAT
// does not throttle them together. Invalid tokens fall back to the address.
func SubjectOrIPKeyFunc(extractor TokenExtractor, jwtMgr *security.JWTManager) KeyFunc {
	if extractor == nil {
		extractor = ClientAwareExtractor{}
	}
	return func(r *http.Request) string {
		raw, _, err := extractor.Extract(r)
		if err == nil && jwtMgr != nil {
			if claims, verr := jwtMgr.Verify(raw); verr == nil && claims.UserID != "" {
				return "sub:" + claims.UserID
			}
		}
		return clientIPKey(r)
	}
}

func retryAfterHeader(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
