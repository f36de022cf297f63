package integration

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/email-auth-api/internal/service"
)

func abusePolicy() service.AuthAbusePolicy {
	return service.AuthAbusePolicy{
		FreeAttempts: 2,
		BaseDelay:    30 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  30 * time.Minute,
	}
}

func assertCooldown(t *testing.T, resp *http.Response, env apiEnvelope) {
	t.Helper()
	if resp.StatusCode != http.StatusTooManyRequests || env.errorCode() != "RATE_LIMITED" {
		t.Fatalf("expected cooldown, got %d %q", resp.StatusCode, env.errorCode())
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 1 {
		t.Fatalf("expected positive Retry-After, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestLoginCooldownAfterRepeatedFailures(t *testing.T) {
	guards := map[string]func(t *testing.T) service.AuthAbuseGuard{
		"in-memory": func(*testing.T) service.AuthAbuseGuard {
			return service.NewInMemoryAuthAbuseGuard(abusePolicy())
		},
		"redis": func(t *testing.T) service.AuthAbuseGuard {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return service.NewRedisAuthAbuseGuard(client, "abuse_it", abusePolicy())
		},
	}
	for name, newGuard := range guards {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, testServerOptions{guard: newGuard(t)})
			s.register(t, "abuse@example.com", "secret123")

			bad := map[string]string{"email": "abuse@example.com", "password": "wrong123"}
			for range 2 {
				s.expect(t, http.MethodPost, "/login", bad, apiClient(""), http.StatusUnauthorized, "INCORRECT_PASSWORD")
			}
			s.expect(t, http.MethodPost, "/login", bad, apiClient(""), http.StatusUnauthorized, "INCORRECT_PASSWORD")

			// The correct password is refused while the cooldown is active.
			resp, env := s.do(t, http.MethodPost, "/login", map[string]string{"email": "abuse@example.com", "password": "secret123"}, apiClient(""))
			assertCooldown(t, resp, env)
		})
	}
}

func TestVerificationCodeCooldown(t *testing.T) {
	s := newTestServer(t, testServerOptions{guard: service.NewInMemoryAuthAbuseGuard(abusePolicy())})
	const email = "guess@example.com"
	s.register(t, email, "secret123")
	token := s.login(t, email, "secret123")
	s.expect(t, http.MethodPatch, "/verify", map[string]string{"email": email}, apiClient(token), http.StatusOK, "")
	code := s.Mailer.lastCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for range 3 {
		s.expect(t, http.MethodPatch, "/verify-user", map[string]string{"email": email, "verificationCode": wrong}, apiClient(token), http.StatusUnauthorized, "INVALID_CODE")
	}
	resp, env := s.do(t, http.MethodPatch, "/verify-user", map[string]string{"email": email, "verificationCode": code}, apiClient(token))
	assertCooldown(t, resp, env)
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	s := newTestServer(t, testServerOptions{guard: service.NewInMemoryAuthAbuseGuard(abusePolicy())})
	s.register(t, "reset@example.com", "secret123")
	bad := map[string]string{"email": "reset@example.com", "password": "wrong123"}

	s.expect(t, http.MethodPost, "/login", bad, apiClient(""), http.StatusUnauthorized, "INCORRECT_PASSWORD")
	s.login(t, "reset@example.com", "secret123")
	s.expect(t, http.MethodPost, "/login", bad, apiClient(""), http.StatusUnauthorized, "INCORRECT_PASSWORD")
	s.login(t, "reset@example.com", "secret123")
}
