package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/email-auth-api/internal/domain"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestUserRepositorySaveAssignsIDAndNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newRepositoryDBForTest(t))

	saved, err := repo.Save(ctx, &domain.User{Email: "  Alice@Example.COM ", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == uuid.Nil {
		t.Fatal("expected assigned id")
	}
	if saved.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", saved.Email)
	}
	if saved.Verified {
		t.Fatal("expected new user to be unverified")
	}

	byEmail, err := repo.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.ID != saved.ID {
		t.Fatalf("id mismatch: got %s want %s", byEmail.ID, saved.ID)
	}
	byID, err := repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Email != saved.Email || byID.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", byID)
	}
}

func TestUserRepositoryRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newRepositoryDBForTest(t))

	if _, err := repo.Save(ctx, &domain.User{Email: "dup@example.com", PasswordHash: "h1"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := &domain.User{Email: "DUP@example.com", PasswordHash: "h2"}
	if _, err := repo.Save(ctx, second); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if second.ID != uuid.Nil {
		t.Fatal("expected id to be reset after failed insert")
	}
}

func TestUserRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newRepositoryDBForTest(t))

	if _, err := repo.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound by email, got %v", err)
	}
	if _, err := repo.FindByID(ctx, uuid.New()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound by id, got %v", err)
	}
}

func TestUserRepositoryPersistsPendingVerificationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newRepositoryDBForTest(t))

	u, err := repo.Save(ctx, &domain.User{Email: "v@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u.BeginVerification("fingerprint", issued)
	if _, err := repo.Save(ctx, u); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	loaded, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if loaded.PendingVerification == nil {
		t.Fatal("expected pending verification")
	}
	if loaded.PendingVerification.CodeHash != "fingerprint" || !loaded.PendingVerification.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected pending verification: %+v", loaded.PendingVerification)
	}

	loaded.CompleteVerification()
	if _, err := repo.Save(ctx, loaded); err != nil {
		t.Fatalf("save verified: %v", err)
	}
	final, err := repo.FindByEmail(ctx, "v@example.com")
	if err != nil {
		t.Fatalf("load verified: %v", err)
	}
	if !final.Verified {
		t.Fatal("expected verified user")
	}
	if final.PendingVerification != nil {
		t.Fatalf("expected cleared pending verification, got %+v", final.PendingVerification)
	}
}

func TestUserRecordIgnoresHalfPendingState(t *testing.T) {
	hash := "only-hash"
	rec := userRecord{ID: uuid.NewString(), Email: "x@example.com", VerificationCodeHash: &hash}
	u, err := rec.toDomain()
	if err != nil {
		t.Fatalf("to domain: %v", err)
	}
	if u.PendingVerification != nil {
		t.Fatal("a record with only one verification column must not surface a pending code")
	}
}
