package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecrypt(t *testing.T) {
	secrets := []string{"", "simple", "bybit-secret-with-символы", strings.Repeat("x", 1024)}

	for _, secret := range secrets {
		enc, err := Encrypt(secret, []byte(testKey))
		require.NoError(t, err)

		dec, err := Decrypt(enc, []byte(testKey))
		require.NoError(t, err)
		assert.Equal(t, secret, dec)
	}
}

func TestEncryptDifferentResults(t *testing.T) {
	a, err := Encrypt("same", []byte(testKey))
	require.NoError(t, err)
	b, err := Encrypt("same", []byte(testKey))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce must differ")
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := Encrypt("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = Decrypt("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecryptFailures(t *testing.T) {
	enc, err := Encrypt("secret", []byte(testKey))
	require.NoError(t, err)

	_, err = Decrypt(enc, []byte("fedcba9876543210fedcba9876543210"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = Decrypt("not base64!!", []byte(testKey))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Decrypt("AAAA", []byte(testKey))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSealOpenSecret(t *testing.T) {
	sealed, err := SealSecret("api-secret", testKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))

	opened, err := OpenSecret(sealed, testKey)
	require.NoError(t, err)
	assert.Equal(t, "api-secret", opened)
}

func TestOpenSecret_PlainValuePassesThrough(t *testing.T) {
	v, err := OpenSecret("plain-value", "")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)
}

func TestOpenSecret_MissingKey(t *testing.T) {
	_, err := OpenSecret(EncryptedPrefix+"abc", "")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.NoError(t, ValidateKey(key))
}
