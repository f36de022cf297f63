package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/database"
	"github.com/sandeepkv93/email-auth-api/internal/di"
	"github.com/sandeepkv93/email-auth-api/internal/tools/common"
)

const (
	toolName = "migrate"
	exitCode = 3
)

func NewRootCommand() *cobra.Command {
	opts := &common.Options{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Database migration tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.Bind(cmd, 30*time.Second)
	cmd.AddCommand(
		newUpCommand(opts),
		newStatusCommand(opts),
		newPlanCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "up", exitCode, func(ctx context.Context) ([]string, error) {
				if err := common.LoadEnvFile(opts.EnvFile); err != nil {
					return nil, err
				}
				runner, err := di.InitializeMigrationRunner()
				if err != nil {
					return nil, err
				}
				if err := runner.Run(); err != nil {
					return nil, err
				}
				return []string{"schema migration applied"}, nil
			})
		},
	}
}

func newStatusCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report database reachability and pending tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "status", exitCode, func(ctx context.Context) ([]string, error) {
				cfg, db, err := loadConfigDB(ctx, opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				pending, err := database.PendingTables(db)
				if err != nil {
					return nil, err
				}
				return statusDetails(cfg, pending), nil
			})
		},
	}
}

func newPlanCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show migration plan (dry-run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "plan", exitCode, func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(ctx, opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				pending, err := database.PendingTables(db)
				if err != nil {
					return nil, err
				}
				return planDetails(pending), nil
			})
		},
	}
}

func statusDetails(cfg *config.Config, pending []string) []string {
	details := []string{"database reachable", "driver: " + cfg.DatabaseDriver}
	if len(pending) == 0 {
		return append(details, "migrations: up to date")
	}
	return append(details, "pending tables: "+strings.Join(pending, ", "))
}

func planDetails(pending []string) []string {
	if len(pending) == 0 {
		return []string{"nothing to apply", "no mutation executed in plan mode"}
	}
	details := make([]string, 0, len(pending)+1)
	for _, table := range pending {
		details = append(details, fmt.Sprintf("would create table %s", table))
	}
	return append(details, "no mutation executed in plan mode")
}

func loadConfigDB(ctx context.Context, envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
