package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/email-auth-api/internal/config"
	"github.com/sandeepkv93/email-auth-api/internal/database"
	"github.com/sandeepkv93/email-auth-api/internal/domain"
	"github.com/sandeepkv93/email-auth-api/internal/repository"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	"github.com/sandeepkv93/email-auth-api/internal/tools/common"
	"github.com/sandeepkv93/email-auth-api/internal/validation"
)

const (
	toolName = "seed"
	exitCode = 3
)

type userOptions struct {
	email    string
	password string
	verified bool
}

func NewRootCommand() *cobra.Command {
	opts := &common.Options{}
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Account seed tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.Bind(cmd, 30*time.Second)
	cmd.AddCommand(newUserCommand(opts), newDryRunCommand(opts), newVerifyCommand(opts))
	return cmd
}

func newUserCommand(opts *common.Options) *cobra.Command {
	uo := &userOptions{}
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create an account if the email is not registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "user", exitCode, func(ctx context.Context) ([]string, error) {
				cfg, repo, closeFn, err := openRepository(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()
				validator, err := validation.Default()
				if err != nil {
					return nil, err
				}
				s := &Seeder{
					Users:     repo,
					Hasher:    security.NewBcryptHasher(cfg.PasswordHashCost),
					Validator: validator,
				}
				u, created, err := s.SeedUser(ctx, uo.email, uo.password, uo.verified)
				if err != nil {
					return nil, err
				}
				if !created {
					return []string{"user already exists: " + u.Email, "id: " + u.ID.String()}, nil
				}
				return []string{"created user: " + u.Email, "id: " + u.ID.String(), fmt.Sprintf("verified: %t", u.Verified)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&uo.email, "email", "", "account email")
	cmd.Flags().StringVar(&uo.password, "password", "", "account password")
	cmd.Flags().BoolVar(&uo.verified, "verified", false, "mark the account verified")
	return cmd
}

func newDryRunCommand(opts *common.Options) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Show what seeding would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "dry-run", exitCode, func(ctx context.Context) ([]string, error) {
				_, repo, closeFn, err := openRepository(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()
				return (&Seeder{Users: repo}).Plan(ctx, email)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newVerifyCommand(opts *common.Options) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Mark an existing account verified",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(opts, toolName, "verify", exitCode, func(ctx context.Context) ([]string, error) {
				_, repo, closeFn, err := openRepository(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()
				u, err := (&Seeder{Users: repo}).MarkVerified(ctx, email)
				if err != nil {
					return nil, err
				}
				return []string{"marked verified: " + u.Email}, nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

// Seeder writes accounts through the same repository and hasher the API uses.
type Seeder struct {
	Users     repository.UserRepository
	Hasher    security.PasswordHasher
	Validator validation.Validator
}

// SeedUser creates the account unless the email is taken. An existing
// account is returned untouched with created=false.
func (s *Seeder) SeedUser(ctx context.Context, email, password string, verified bool) (*domain.User, bool, error) {
	if err := s.Validator.Validate(validation.Register, validation.RegisterPayload{Email: email, Password: password}); err != nil {
		return nil, false, err
	}
	existing, err := s.Users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, false, err
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}
	u, err := s.Users.Save(ctx, &domain.User{Email: email, PasswordHash: hash, Verified: verified})
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (s *Seeder) Plan(ctx context.Context, email string) ([]string, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	u, err := s.Users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return []string{fmt.Sprintf("user exists: %s (verified=%t)", u.Email, u.Verified), "nothing to create"}, nil
	case errors.Is(err, repository.ErrUserNotFound):
		return []string{"would create user: " + email, "no mutation executed in dry-run mode"}, nil
	default:
		return nil, err
	}
}

// MarkVerified also discards any outstanding code.
func (s *Seeder) MarkVerified(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}
	u, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u.CompleteVerification()
	return s.Users.Save(ctx, u)
}

func openRepository(envFile string) (*config.Config, repository.UserRepository, func(), error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := database.Migrate(db); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return cfg, repository.NewUserRepository(db), closeFn, nil
}
