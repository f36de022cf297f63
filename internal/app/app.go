package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/health"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Readiness     *health.ProbeRunner
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Readiness:     readiness,
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", ln.Addr().String())
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	}
	a.Shutdown(context.Background())
	return err
}

// Shutdown drains HTTP, flushes telemetry, then closes Redis and the
// database. Each stage has its own budget inside the overall timeout.
func (a *App) Shutdown(parent context.Context) {
	totalCtx, totalCancel := context.WithTimeout(parent, durationOr(a.shutdownTimeout(), 20*time.Second))
	defer totalCancel()

	httpCtx, httpCancel := context.WithTimeout(totalCtx, durationOr(a.httpDrainTimeout(), 10*time.Second))
	if err := a.Server.Shutdown(httpCtx); err != nil {
		a.Logger.Error("failed to shutdown http server", "error", err)
	}
	httpCancel()

	if a.Observability != nil {
		obsCtx, obsCancel := context.WithTimeout(totalCtx, durationOr(a.observabilityTimeout(), 8*time.Second))
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Error("failed to shutdown observability", "error", err)
		}
		obsCancel()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("failed to close redis client", "error", err)
		}
		a.Redis = nil
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Error("failed to close database connection", "error", err)
			}
		}
		a.DB = nil
	}
	a.Logger.Info("shutdown complete")
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config == nil {
		return 0
	}
	return a.Config.ShutdownTimeout
}

func (a *App) httpDrainTimeout() time.Duration {
	if a.Config == nil {
		return 0
	}
	return a.Config.ShutdownHTTPDrainTimeout
}

func (a *App) observabilityTimeout() time.Duration {
	if a.Config == nil {
		return 0
	}
	return a.Config.ShutdownObservabilityTimeout
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
