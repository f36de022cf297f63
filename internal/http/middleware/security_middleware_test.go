package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveCORS(t *testing.T, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	h := CORS([]string{"https://app.example.com/"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/verify-user", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, reached
}

func TestCORSAllowsConfiguredOriginWithCredentials(t *testing.T) {
	rr, reached := serveCORS(t, http.MethodPatch, "https://app.example.com", false)

	require.True(t, reached)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rr.Header().Values("Vary"), "Origin")
}

func TestCORSLeavesUnknownOriginWithoutHeaders(t *testing.T) {
	rr, reached := serveCORS(t, http.MethodPatch, "https://evil.example.com", false)

	require.True(t, reached)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rr, reached := serveCORS(t, http.MethodOptions, "https://app.example.com", true)

	require.False(t, reached)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "GET, POST, PATCH, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), ClientHeader)
}

func TestCORSPassesPlainOptionsThrough(t *testing.T) {
	_, reached := serveCORS(t, http.MethodOptions, "https://app.example.com", false)
	assert.True(t, reached, "OPTIONS without a request method is not a preflight")

	_, reached = serveCORS(t, http.MethodOptions, "", true)
	assert.True(t, reached, "no Origin means no CORS handling")
}

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		tooBig bool
	}{
		{"within limit", `{"a":1}`, false},
		{"over limit", `{"email":"someone@example.com"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var readErr error
			h := BodyLimit(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.ReadAll(r.Body)
				require.NoError(t, r.Body.Close())
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tc.body)))

			var tooLarge *http.MaxBytesError
			assert.Equal(t, tc.tooBig, errors.As(readErr, &tooLarge), "read error: %v", readErr)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"), "no HSTS on plain http")

	req := httptest.NewRequest(http.MethodPost, "https://api.example.com/login", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))
}
