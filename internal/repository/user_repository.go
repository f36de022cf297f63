package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sandeepkv93/email-auth-api/internal/domain"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

//go:generate mockgen -destination=gomock/mock_user_repository.go -package=gomock github.com/sandeepkv93/email-auth-api/internal/repository UserRepository

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// Save inserts a user with a nil ID, assigning one, and fully
	// overwrites an existing user otherwise.
	Save(ctx context.Context, user *domain.User) (*domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	normalized := strings.TrimSpace(strings.ToLower(email))
	return r.find(ctx, "find_by_email", "email = ?", normalized)
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.find(ctx, "find_by_id", "id = ?", id.String())
}

func (r *GormUserRepository) find(ctx context.Context, op, query string, arg any) (*domain.User, error) {
	var rec userRecord
	if err := r.db.WithContext(ctx).Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, err
	}
	u, err := rec.toDomain()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return u, nil
}

func (r *GormUserRepository) Save(ctx context.Context, user *domain.User) (*domain.User, error) {
	op := "update"
	if user.ID == uuid.Nil {
		op = "create"
		user.ID = uuid.New()
	}
	user.Email = strings.TrimSpace(strings.ToLower(user.Email))
	rec := toRecord(user)

	db := r.db.WithContext(ctx)
	var err error
	if op == "create" {
		err = db.Create(&rec).Error
	} else {
		// Save writes every column, so a cleared verification becomes NULL.
		err = db.Save(&rec).Error
	}
	if err != nil {
		if op == "create" {
			user.ID = uuid.Nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "user", op, "duplicate")
			return nil, ErrDuplicateEmail
		}
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")

	saved, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	return saved, nil
}
