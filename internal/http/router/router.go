package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/email-auth-api/internal/http/handler"
	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
	"github.com/sandeepkv93/email-auth-api/internal/security"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	SystemHandler      *handler.SystemHandler
	JWTManager         *security.JWTManager
	TokenExtractor     middleware.TokenExtractor
	CORSOrigins        []string
	AuthRateLimitRPM   int
	VerifyRateLimitRPM int
	APIRateLimitRPM    int
	GlobalRateLimiter  GlobalRateLimiterFunc
	AuthRateLimiter    AuthRateLimiterFunc
	VerifyRateLimiter  VerifyRateLimiterFunc
	EnableOTelHTTP     bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler

// VerifyRateLimiterFunc guards the route that sends mail.
type VerifyRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.Recover)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	}
	verifyLimiter := dep.VerifyRateLimiter
	if verifyLimiter == nil {
		verifyLimiter = middleware.NewRateLimiter(dep.VerifyRateLimitRPM, time.Minute, "verify").Middleware()
	}
	requireAuth := middleware.AuthMiddleware(dep.TokenExtractor, dep.JWTManager)

	r.Get("/", dep.SystemHandler.Hello)
	r.Get("/health/live", dep.SystemHandler.Live)
	r.Get("/health/ready", dep.SystemHandler.Ready)

	r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
	r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/logout", dep.AuthHandler.Logout)
		r.With(verifyLimiter).Patch("/verify", dep.AuthHandler.RequestVerification)
		r.With(authLimiter).Patch("/verify-user", dep.AuthHandler.ConfirmVerification)
		r.With(authLimiter).Patch("/change-password", dep.AuthHandler.ChangePassword)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
