package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
)

func newRedisLimiter(t *testing.T) (*middleware.RedisFixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return middleware.NewRedisFixedWindowLimiter(client, "rl_it"), mr
}

func TestAuthRateLimitSharedAcrossInstances(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	db := newSQLiteDB(t)
	a := newTestServer(t, testServerOptions{db: db, limiter: limiter, authRPM: 2})
	b := newTestServer(t, testServerOptions{db: db, limiter: limiter, authRPM: 2})

	a.register(t, "shared@example.com", "secret123")
	b.login(t, "shared@example.com", "secret123")

	resp, env := a.do(t, http.MethodPost, "/login", map[string]string{"email": "shared@example.com", "password": "secret123"}, apiClient(""))
	if resp.StatusCode != http.StatusTooManyRequests || env.errorCode() != "RATE_LIMITED" {
		t.Fatalf("expected shared quota to be exhausted, got %d %q", resp.StatusCode, env.errorCode())
	}
	if resp.Header.Get("Retry-After") == "" || resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected rate limit headers, got %v", resp.Header)
	}
}

func TestVerifyRateLimitIsPerAccount(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	s := newTestServer(t, testServerOptions{limiter: limiter, verifyRPM: 1})
	s.register(t, "one@example.com", "secret123")
	s.register(t, "two@example.com", "secret123")
	one := s.login(t, "one@example.com", "secret123")
	two := s.login(t, "two@example.com", "secret123")

	s.expect(t, http.MethodPatch, "/verify", map[string]string{"email": "one@example.com"}, apiClient(one), http.StatusOK, "")
	s.expect(t, http.MethodPatch, "/verify", map[string]string{"email": "one@example.com"}, apiClient(one), http.StatusTooManyRequests, "RATE_LIMITED")
	// Same address, different account.
	s.expect(t, http.MethodPatch, "/verify", map[string]string{"email": "two@example.com"}, apiClient(two), http.StatusOK, "")
	if s.Mailer.count() != 2 {
		t.Fatalf("expected two mails, got %d", s.Mailer.count())
	}
}

func TestRateLimitWindowExpires(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	s := newTestServer(t, testServerOptions{limiter: limiter, authRPM: 1})

	s.register(t, "window@example.com", "secret123")
	s.expect(t, http.MethodPost, "/login", map[string]string{"email": "window@example.com", "password": "secret123"}, apiClient(""), http.StatusTooManyRequests, "RATE_LIMITED")

	mr.FastForward(61 * time.Second)
	s.login(t, "window@example.com", "secret123")
}

func TestRedisOutageFailsClosedForAuth(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	s := newTestServer(t, testServerOptions{limiter: limiter})
	mr.Close()

	// The global limiter fails open, so public routes stay up.
	s.expect(t, http.MethodGet, "/", nil, nil, http.StatusOK, "")
	s.expect(t, http.MethodPost, "/register", map[string]string{"email": "down@example.com", "password": "secret123"}, nil, http.StatusTooManyRequests, "RATE_LIMITED")
}
