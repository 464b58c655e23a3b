package cryptox_test

import (
	"strings"
	"testing"

	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := cryptox.HashSecret("api-key-123")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := cryptox.VerifySecret("api-key-123", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cryptox.VerifySecret("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashSecretIsSalted(t *testing.T) {
	a, err := cryptox.HashSecret("same")
	require.NoError(t, err)
	b, err := cryptox.HashSecret("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifySecretInvalidHash(t *testing.T) {
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=65536,t=2,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=2,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=2,p=2$!!!$aGFzaA",
	} {
		_, err := cryptox.VerifySecret("x", bad)
		require.ErrorIs(t, err, cryptox.ErrInvalidHash, bad)
	}
}
