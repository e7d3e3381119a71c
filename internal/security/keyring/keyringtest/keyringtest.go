// Package keyringtest builds file backed key rings for tests.
package keyringtest

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/security/aescipher"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
)

// New returns ring in temp dir with one fresh key set as primary
func New(t *testing.T) *keyring.Ring {
	t.Helper()

	opts := keyring.Options{Backend: keyring.BackendFile, KeysDir: t.TempDir()}
	ring, err := keyring.New(t.Context(), opts, logger.NewNoOpLogger())
	require.NoError(t, err, "empty key ring should be loaded")

	Rotate(t, ring)

	return ring
}

// Rotate saves fresh key and makes it primary. Returns new primary key id
func Rotate(t *testing.T, ring *keyring.Ring) string {
	t.Helper()

	raw := make([]byte, aescipher.KeySize)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	entry, err := ring.SaveKey(t.Context(), raw)
	require.NoError(t, err, "key should be saved")

	opts := ring.Options()
	opts.PrimaryKeyID = entry.KeyID
	require.NoError(t, ring.Reload(t.Context(), opts), "ring should be reloaded with new primary key")

	return entry.KeyID
}
