package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("produces url-safe tokens of the right entropy", func(t *testing.T) {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		require.Len(t, raw, TokenSize256)
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)
	})

	t.Run("tokens are unique", func(t *testing.T) {
		a, err := GenerateToken(TokenSize128)
		require.NoError(t, err)
		b, err := GenerateToken(TokenSize128)
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestFingerprintTokenIsDeterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, FingerprintToken("abc"), FingerprintToken("abc"))
	require.NotEqual(t, FingerprintToken("abc"), FingerprintToken("abd"))
}

func TestCodeHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := HashCode("backup-code-1234")
	require.NoError(t, err)

	require.NoError(t, VerifyCode("backup-code-1234", hash))
	require.ErrorIs(t, VerifyCode("wrong-code", hash), ErrCodeMismatch)
}

func TestVerifyCodeRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	require.Error(t, VerifyCode("code", "not-a-phc-string"))
	require.Error(t, VerifyCode("code", "$argon2id$v=19$m=19456,t=2,p=1$onlysalt"))
}

func TestRandomnessArtifacts(t *testing.T) {
	t.Parallel()

	t.Run("random value is 256-bit hex", func(t *testing.T) {
		v, err := GenerateRandomValue()
		require.NoError(t, err)
		require.True(t, WellFormedRandomValue(v))
	})

	t.Run("commitment recomputes deterministically", func(t *testing.T) {
		v, err := GenerateRandomValue()
		require.NoError(t, err)

		proof := Commit("draw-1:37", v)
		require.True(t, WellFormedProof(proof))
		require.Equal(t, proof, Commit("draw-1:37", v))
		require.NotEqual(t, proof, Commit("draw-1:38", v))
	})

	t.Run("well-formedness checks reject junk", func(t *testing.T) {
		require.False(t, WellFormedRandomValue("xyz"))
		require.False(t, WellFormedProof("md5:abcd"))
		require.False(t, WellFormedProof(ProofPrefix+"zz"))
	})
}
