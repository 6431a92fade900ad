package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestRoundTrip(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	sealed, err := v.Encrypt("hunter2-imap-password")
	require.NoError(t, err)

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2-imap-password", plain)
}

func TestNonceLayout(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	sealed, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	// 12-byte nonce, then ciphertext+tag
	assert.Greater(t, len(raw), 12+len("secret"))

	// A fresh encryption of the same plaintext must use a new nonce.
	sealed2, err := v.Encrypt("secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)
}

func TestRejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestDecryptGarbage(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	_, err = v.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.Error(t, err)
}
