package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseIdentity(t *testing.T) {
	svc := NewService("secret", 60)
	token, err := svc.GenerateToken(" alice ")
	require.NoError(t, err)

	id, err := svc.ParseIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = NewService("other", 60).ParseIdentity(token)
	require.Error(t, err)

	_, err = svc.GenerateToken("  ")
	require.ErrorIs(t, err, ErrMissingSubject)
}

func TestParseIdentityFallsBackToSubject(t *testing.T) {
	svc := NewService("secret", 60)
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := raw.SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := svc.ParseIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", id)
}

func TestParseIdentityRejectsExpiredAndBlankSubject(t *testing.T) {
	svc := NewService("secret", 1)
	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.ParseIdentity(token)
	require.Error(t, err)

	blank := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err = blank.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewService("secret", 60).ParseIdentity(token)
	require.ErrorIs(t, err, ErrMissingSubject)
}
