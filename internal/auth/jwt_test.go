package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-signing-key")
	userID := uuid.New()

	token, err := m.GenerateToken(userID, false)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.False(t, claims.Anonymous)
}

func TestAnonymousFlagSurvivesRoundTrip(t *testing.T) {
	m := NewManager("test-signing-key")

	token, err := m.GenerateToken(uuid.New(), true)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Anonymous)
}

func TestWrongKeyRejected(t *testing.T) {
	signer := NewManager("key-one")
	verifier := NewManager("key-two")

	token, err := signer.GenerateToken(uuid.New(), false)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	m := NewManager("test-signing-key")
	_, err := m.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22-but-longer")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("hunter22-but-longer", hash))
	assert.False(t, VerifyPassword("wrong", hash))
}
