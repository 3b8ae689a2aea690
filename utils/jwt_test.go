package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("test-secret-key", 42, "jane", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken("test-secret-key", token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "jane", claims.Name)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("test-secret-key", 1, "jane", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("another-secret", token)
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := GenerateToken("test-secret-key", 1, "jane", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("test-secret-key", token)
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("test-secret-key", "not-a-token")
	assert.Error(t, err)
}
