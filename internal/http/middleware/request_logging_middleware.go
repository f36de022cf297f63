package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/email-auth-api/internal/http/response"
)

type logFieldsKey struct{}

// requestLogFields collects attributes discovered deeper in the chain, such
// as the authenticated subject, for the access log line.
type requestLogFields struct {
	mu    sync.Mutex
	attrs []any
}

// AnnotateRequestLog adds key/value to the access log line of the current
// request. It is a no-op outside StructuredRequestLogger.
func AnnotateRequestLog(ctx context.Context, key string, value any) {
	f, ok := ctx.Value(logFieldsKey{}).(*requestLogFields)
	if !ok {
		return
	}
	f.mu.Lock()
	f.attrs = append(f.attrs, key, value)
	f.mu.Unlock()
}

func clientKind(r *http.Request) string {
	if r.Header.Get(ClientHeader) == NonBrowserClient {
		return NonBrowserClient
	}
	return "browser"
}

// StructuredRequestLogger writes one access log line per request. Probe
// traffic is logged at debug.
func StructuredRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := &requestLogFields{}
		r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, fields))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"client_ip", r.RemoteAddr,
			"client", clientKind(r),
			"user_agent", r.UserAgent(),
		}
		fields.mu.Lock()
		attrs = append(attrs, fields.attrs...)
		fields.mu.Unlock()

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case strings.HasPrefix(r.URL.Path, "/health/"):
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http.request", attrs...)
	})
}

// Recover turns a handler panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			slog.ErrorContext(r.Context(), "http.panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", chimiddleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
