package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func TestJWTIssueAndVerifyRoundTrip(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", testSecret, 24*time.Hour)

	token, expiresAt, err := mgr.Issue("3b9b4c8e-8f6f-4c39-9a4c-0b1f5c2e7d10", "a@example.com", true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 5*time.Second)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "3b9b4c8e-8f6f-4c39-9a4c-0b1f5c2e7d10", claims.UserID)
	assert.Equal(t, claims.UserID, claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.Verified)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTVerifyExpired(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", testSecret, time.Hour)
	mgr.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := mgr.Issue("user-1", "a@example.com", false)
	require.NoError(t, err)

	mgr.now = time.Now
	_, err = mgr.Verify(token)
	assert.True(t, errors.Is(err, ErrTokenExpired), "got %v", err)
}

func TestJWTVerifyWrongSecret(t *testing.T) {
	issuer := NewJWTManager("iss", "aud", testSecret, time.Hour)
	other := NewJWTManager("iss", "aud", "zyxwvutsrqponmlkjihgfedcba654321", time.Hour)
	token, _, err := issuer.Issue("user-1", "a@example.com", false)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.True(t, errors.Is(err, ErrTokenInvalidSignature), "got %v", err)
}

func TestJWTVerifyRejectsOtherAlgorithms(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", testSecret, time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iss",
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"aud"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = mgr.Verify(token)
	assert.Error(t, err)
}

func TestJWTVerifyWrongAudienceIsMalformed(t *testing.T) {
	issuer := NewJWTManager("iss", "other-aud", testSecret, time.Hour)
	verifier := NewJWTManager("iss", "aud", testSecret, time.Hour)
	token, _, err := issuer.Issue("user-1", "a@example.com", false)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.True(t, errors.Is(err, ErrTokenMalformed), "got %v", err)
}

func TestJWTVerifyGarbage(t *testing.T) {
	mgr := NewJWTManager("iss", "aud", testSecret, time.Hour)
	for _, raw := range []string{"", "not-a-jwt", "a.b.c", strings.Repeat("x", 512)} {
		_, err := mgr.Verify(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func FuzzJWTVerifyRobustness(f *testing.F) {
	mgr := NewJWTManager("iss", "aud", testSecret, time.Minute)
	valid, _, _ := mgr.Issue("user-1", "a@example.com", true)

	f.Add(valid)
	f.Add("")
	f.Add("header.payload.signature")
	f.Add(strings.Repeat("a", 4096))

	f.Fuzz(func(t *testing.T, raw string) {
		claims, err := mgr.Verify(raw)
		if err == nil && (claims == nil || claims.UserID == "") {
			t.Fatal("successful verification must yield a subject")
		}
	})
}
