package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.GenerateToken("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestVerifyTokenStripsBearerPrefix(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.GenerateToken("user-123")
	require.NoError(t, err)

	userID, err := svc.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	minted := NewService("secret-a")
	verifier := NewService("secret-b")

	token, err := minted.GenerateToken("user-123")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc := NewService("test-secret")

	_, err := svc.VerifyToken("")
	assert.Error(t, err)

	_, err = svc.VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", ExtractTokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", ExtractTokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, ExtractTokenFromRequest(r))
}

func TestPasswordHashAndCompare(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	require.NotEqual(t, "hunter22", hash)

	assert.True(t, ComparePassword("hunter22", hash))
	assert.False(t, ComparePassword("wrong", hash))
}
