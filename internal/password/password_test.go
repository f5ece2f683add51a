package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/smallbiznis/tokenauth/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hasher := password.NewHasher()

	hash, err := hasher.Hash("p1")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := hasher.Verify("p1", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = hasher.Verify("p2", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashUsesRandomSalt(t *testing.T) {
	first, err := password.Hash("same")
	require.NoError(t, err)
	second, err := password.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("p1"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := password.Verify("p1", string(legacy))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("nope", string(legacy))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plain", "$argon2id$v=19$m=1,t=1$bad", "$2a$10$short"} {
		ok, err := password.Verify("p1", hash)
		require.Error(t, err, hash)
		require.False(t, ok)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := password.NewHasherWithParams(password.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	strong := password.NewHasher()

	weakHash, err := weak.Hash("p1")
	require.NoError(t, err)
	ok, err := strong.Verify("p1", weakHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strong.NeedsRehash(weakHash))
	require.False(t, weak.NeedsRehash(weakHash))

	strongHash, err := strong.Hash("p1")
	require.NoError(t, err)
	require.False(t, strong.NeedsRehash(strongHash))

	legacy, err := bcrypt.GenerateFromPassword([]byte("p1"), bcrypt.MinCost)
	require.NoError(t, err)
	require.True(t, strong.NeedsRehash(string(legacy)))

	require.False(t, strong.NeedsRehash("garbage"))
}
