package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an account identified by a unique email address.
type User struct {
	ID                  uuid.UUID            `json:"id"`
	Email               string               `json:"email"`
	PasswordHash        string               `json:"-"`
	Verified            bool                 `json:"verified"`
	PendingVerification *PendingVerification `json:"-"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// PendingVerification holds the fingerprint of the last emailed code and
// the moment it was issued. Both are always present together.
type PendingVerification struct {
	CodeHash string
	IssuedAt time.Time
}

// BeginVerification replaces any outstanding code with a new one.
func (u *User) BeginVerification(codeHash string, issuedAt time.Time) {
	u.PendingVerification = &PendingVerification{CodeHash: codeHash, IssuedAt: issuedAt.UTC()}
}

// CompleteVerification marks the address as owned and discards the code.
func (u *User) CompleteVerification() {
	u.Verified = true
	u.PendingVerification = nil
}
