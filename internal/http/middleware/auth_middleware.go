package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sandeepkv93/email-auth-api/internal/http/response"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"

	// ClientHeader selects where the token is read from. Callers that are not
	// browsers send "not-browser" and use the Authorization header.
	ClientHeader     = "client"
	NonBrowserClient = "not-browser"
)

var ErrMissingToken = errors.New("missing access token")

type TokenExtractor interface {
	// Extract returns the raw token and the source label it was read from.
	Extract(r *http.Request) (string, string, error)
}

// ClientAwareExtractor reads "Bearer <jwt>" from the token cookie for browsers
// and from the Authorization header for everything else.
type ClientAwareExtractor struct{}

func (ClientAwareExtractor) Extract(r *http.Request) (string, string, error) {
	var raw, source string
	if r.Header.Get(ClientHeader) == NonBrowserClient {
		raw, source = r.Header.Get("Authorization"), "header"
	} else {
		raw, source = security.GetCookie(r, security.SessionCookieName), "cookie"
	}
	parts := strings.Split(raw, " ")
	if len(parts) < 2 || parts[1] == "" {
		return "", source, ErrMissingToken
	}
	return parts[1], source, nil
}

func AuthMiddleware(extractor TokenExtractor, jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = ClientAwareExtractor{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source, err := extractor.Extract(r)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "missing", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			claims, err := jwtMgr.Verify(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), tokenFailureOutcome(err), source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			AnnotateRequestLog(r.Context(), "user_id", claims.UserID)
			AnnotateRequestLog(r.Context(), "token_source", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func tokenFailureOutcome(err error) string {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return "expired"
	case errors.Is(err, security.ErrTokenInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
