package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/email-auth-api/internal/domain"
)

// userRecord is the persisted shape of domain.User. The pending verification
// is stored as two nullable columns and only surfaces when both are set.
type userRecord struct {
	ID                   string     `gorm:"primaryKey;size:36"`
	Email                string     `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash         string     `gorm:"size:1024;not null"`
	Verified             bool       `gorm:"not null;default:false"`
	VerificationCodeHash *string    `gorm:"size:128"`
	VerificationIssuedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (userRecord) TableName() string { return "users" }

// Models returns every persisted model for schema migration.
func Models() []any {
	return []any{&userRecord{}}
}

func toRecord(u *domain.User) userRecord {
	rec := userRecord{
		ID:           u.ID.String(),
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Verified:     u.Verified,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if p := u.PendingVerification; p != nil {
		hash := p.CodeHash
		issued := p.IssuedAt.UTC()
		rec.VerificationCodeHash = &hash
		rec.VerificationIssuedAt = &issued
	}
	return rec
}

func (r userRecord) toDomain() (*domain.User, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", r.ID, err)
	}
	u := &domain.User{
		ID:           id,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Verified:     r.Verified,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.VerificationCodeHash != nil && r.VerificationIssuedAt != nil {
		u.PendingVerification = &domain.PendingVerification{
			CodeHash: *r.VerificationCodeHash,
			IssuedAt: r.VerificationIssuedAt.UTC(),
		}
	}
	return u, nil
}
