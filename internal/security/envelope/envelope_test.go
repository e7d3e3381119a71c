package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
)

// Ring over temp dir with one key "k1" set as primary
func newRing(t *testing.T) (*keyring.Ring, string) {
	t.Helper()

	dir := t.TempDir()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k1.key"), []byte(base64.StdEncoding.EncodeToString(key)), 0o600))

	ring, err := keyring.New(t.Context(), keyring.Options{PrimaryKeyID: "k1", Backend: keyring.BackendFile, KeysDir: dir}, logger.NewNoOpLogger())
	require.NoError(t, err)

	return ring, dir
}

// Generate new key, save it and make it primary
func rotatePrimary(t *testing.T, ring *keyring.Ring, enc *Encryptor, dir string) keyring.Entry {
	t.Helper()

	raw, err := enc.GenerateKey()
	require.NoError(t, err)
	entry, err := ring.SaveKey(t.Context(), raw)
	require.NoError(t, err)

	err = ring.Reload(t.Context(), keyring.Options{PrimaryKeyID: entry.KeyID, Backend: keyring.BackendFile, KeysDir: dir})
	require.NoError(t, err)

	return entry
}

func Test_Encryptor(t *testing.T) {
	t.Parallel()

	secret := []byte("access-sandbox-de3ce8ef-33f8-452c-a685-8671031fc0f6")

	t.Run("generate key", func(t *testing.T) {
		enc := New(nil)

		first, err := enc.GenerateKey()
		require.NoError(t, err)
		second, err := enc.GenerateKey()
		require.NoError(t, err)

		require.Len(t, first, 32, "keys must be 256 bit")
		require.NotEqual(t, first, second)
	})

	t.Run("data key wrapped by primary", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)

		dataKey, err := enc.GenerateEncryptedDataKey()

		require.NoError(t, err)
		require.Equal(t, "k1", dataKey.KeyIDUsed)
		require.Len(t, dataKey.EncryptedKey, 12+32+16, "nonce, key and tag expected")
	})

	t.Run("encrypt for subject round trip", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)
		dataKey, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)

		ciphertext, err := enc.EncryptFor(dataKey, secret)
		require.NoError(t, err)
		require.NotContains(t, string(ciphertext), string(secret))

		got, err := enc.DecryptFor(dataKey, ciphertext)
		require.NoError(t, err)
		require.Equal(t, secret, got)
	})

	t.Run("other subject can't decrypt", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)
		alice, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)
		bob, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)

		ciphertext, err := enc.EncryptFor(alice, secret)
		require.NoError(t, err)

		_, err = enc.DecryptFor(bob, ciphertext)
		require.ErrorIs(t, err, apperrors.ErrCrypto)
	})

	t.Run("old data keys survive primary rotation", func(t *testing.T) {
		ring, dir := newRing(t)
		enc := New(ring)
		dataKey, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)
		ciphertext, err := enc.EncryptFor(dataKey, secret)
		require.NoError(t, err)

		k2 := rotatePrimary(t, ring, enc, dir)

		got, err := enc.DecryptFor(dataKey, ciphertext)
		require.NoError(t, err, "data key must be unwrapped with the key it was wrapped by")
		require.Equal(t, secret, got)

		fresh, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)
		require.Equal(t, k2.KeyID, fresh.KeyIDUsed, "new data keys must use new primary")
	})

	t.Run("rewrap", func(t *testing.T) {
		ring, dir := newRing(t)
		enc := New(ring)
		dataKey, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)
		ciphertext, err := enc.EncryptFor(dataKey, secret)
		require.NoError(t, err)
		k2 := rotatePrimary(t, ring, enc, dir)

		rewrapped, err := enc.Rewrap(dataKey)

		require.NoError(t, err)
		require.Equal(t, k2.KeyID, rewrapped.KeyIDUsed)
		require.NotEqual(t, dataKey.EncryptedKey, rewrapped.EncryptedKey)

		got, err := enc.DecryptFor(rewrapped, ciphertext)
		require.NoError(t, err, "secrets must stay readable after rewrap")
		require.Equal(t, secret, got)
	})

	t.Run("unknown wrapping key", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)
		dataKey, err := enc.GenerateEncryptedDataKey()
		require.NoError(t, err)
		dataKey.KeyIDUsed = "gone"

		_, err = enc.EncryptFor(dataKey, secret)

		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("corrupted data key", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)

		_, err := enc.DecryptFor(models.EncryptedDataKey{KeyIDUsed: "k1", EncryptedKey: []byte("garbage")}, []byte("whatever"))

		require.ErrorIs(t, err, apperrors.ErrCrypto)
	})

	t.Run("encrypt with primary", func(t *testing.T) {
		ring, _ := newRing(t)
		enc := New(ring)

		ciphertext, err := enc.Encrypt(secret)
		require.NoError(t, err)
		got, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)

		require.Equal(t, secret, got)
	})

	t.Run("no primary key", func(t *testing.T) {
		ring, err := keyring.New(t.Context(), keyring.Options{Backend: keyring.BackendFile, KeysDir: t.TempDir()}, logger.NewNoOpLogger())
		require.NoError(t, err)
		enc := New(ring)

		_, err = enc.GenerateEncryptedDataKey()
		require.ErrorIs(t, err, apperrors.ErrConfiguration)

		_, err = enc.Encrypt(secret)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})
}
