package database

import (
	"context"
	"time"

	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/repository"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "migrate", time.Since(start))
	}()

	if err := db.AutoMigrate(repository.Models()...); err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "error")
		return err
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "success")
	return nil
}

// PendingTables lists model tables that do not exist yet.
func PendingTables(db *gorm.DB) ([]string, error) {
	var pending []string
	for _, model := range repository.Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, err
		}
		if !db.Migrator().HasTable(model) {
			pending = append(pending, stmt.Schema.Table)
		}
	}
	return pending, nil
}
