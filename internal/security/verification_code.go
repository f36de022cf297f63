package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	VerificationCodeLength = 6
	VerificationCodeWindow = 10 * time.Minute

	codeFloor = 100000
	codeSpan  = 900000
)

var (
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeMismatch = errors.New("verification code mismatch")
)

// VerificationCodes issues six digit codes and fingerprints them with
// HMAC-SHA256 under the process signing secret. Only fingerprints are stored.
type VerificationCodes struct {
	secret []byte
	window time.Duration
}

func NewVerificationCodes(secret string) *VerificationCodes {
	return &VerificationCodes{secret: []byte(secret), window: VerificationCodeWindow}
}

func (v *VerificationCodes) Window() time.Duration { return v.window }

func (v *VerificationCodes) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeFloor), nil
}

func (v *VerificationCodes) Fingerprint(code string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares in constant time.
func (v *VerificationCodes) Matches(code, fingerprint string) bool {
	return hmac.Equal([]byte(v.Fingerprint(code)), []byte(fingerprint))
}

// Check rejects a stale code before looking at its value, so an expired
// code reports ErrCodeExpired even when it is correct.
func (v *VerificationCodes) Check(code, fingerprint string, issuedAt, now time.Time) error {
	if now.Sub(issuedAt) > v.window {
		return ErrCodeExpired
	}
	if !v.Matches(code, fingerprint) {
		return ErrCodeMismatch
	}
	return nil
}
