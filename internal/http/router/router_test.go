package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/email-auth-api/internal/http/handler"
	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	servicegomock "github.com/sandeepkv93/email-auth-api/internal/service/gomock"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func newTestRouter(t *testing.T, authRPM int) (http.Handler, *servicegomock.MockAuthServiceInterface, *security.JWTManager) {
	t.Helper()
	svc := servicegomock.NewMockAuthServiceInterface(gomock.NewController(t))
	jwtMgr := security.NewJWTManager("iss", "aud", testSecret, time.Hour)
	h := NewRouter(Dependencies{
		AuthHandler:        handler.NewAuthHandler(svc, security.NewCookieManager("", false, "lax", time.Hour)),
		SystemHandler:      handler.NewSystemHandler(nil),
		JWTManager:         jwtMgr,
		TokenExtractor:     middleware.ClientAwareExtractor{},
		CORSOrigins:        []string{"http://localhost:3000"},
		AuthRateLimitRPM:   authRPM,
		VerifyRateLimitRPM: authRPM,
		APIRateLimitRPM:    100,
	})
	return h, svc, jwtMgr
}

func TestRouterPublicRoutes(t *testing.T) {
	h, _, _ := newTestRouter(t, 10)
	for _, path := range []string{"/", "/health/live", "/health/ready"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: expected security headers", path)
		}
	}
}

func TestRouterProtectedRoutesRequireToken(t *testing.T) {
	h, _, _ := newTestRouter(t, 10)
	cases := []struct{ method, path string }{
		{http.MethodPost, "/logout"},
		{http.MethodPatch, "/verify"},
		{http.MethodPatch, "/verify-user"},
		{http.MethodPatch, "/change-password"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`)))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestRouterLogoutWithHeaderToken(t *testing.T) {
	h, _, jwtMgr := newTestRouter(t, 10)
	token, _, err := jwtMgr.Issue("3d6f4b1e-5c2a-4e8f-9a71-0b1c2d3e4f50", "u@example.com", true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(middleware.ClientHeader, middleware.NonBrowserClient)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAuthRateLimit(t *testing.T) {
	h, _, _ := newTestRouter(t, 1)
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email":`))
		req.RemoteAddr = "198.51.100.7:1000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if got := send(); got != http.StatusBadRequest {
		t.Fatalf("expected first request to reach handler, got %d", got)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be limited, got %d", got)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	h, _, _ := newTestRouter(t, 10)
	req := httptest.NewRequest(http.MethodOptions, "/verify-user", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
