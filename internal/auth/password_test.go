package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct-horse", hash)

	require.NoError(t, VerifyPassword(hash, "correct-horse"))
	require.ErrorIs(t, VerifyPassword(hash, "wrong-horse"), ErrInvalidCredentials)
	require.Error(t, VerifyPassword("not-a-hash", "correct-horse"))
}

func TestHashPasswordRejectsLongInput(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", 73))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}
