package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects with the configured driver. Unique violations are surfaced
// as gorm.ErrDuplicatedKey for both drivers.
func Open(cfg *config.Config) (*gorm.DB, error) {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "connect", time.Since(start))
	}()

	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case config.DatabaseDriverSQLite:
		dialector = sqlite.Open(cfg.DatabaseURL)
	case config.DatabaseDriverPostgres, "":
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "connect", "error")
		return nil, fmt.Errorf("open %s database: %w", cfg.DatabaseDriver, err)
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "connect", "success")
	return db, nil
}
