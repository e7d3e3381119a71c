// Package envelope protects secrets with per-user data keys wrapped by key ring keys.
package envelope

import (
	"crypto/rand"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/security/aescipher"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
)

type keyRing interface {
	GetKey(keyID string) (keyring.Entry, error)
	GetPrimaryKey() (keyring.Entry, error)
}

// Encryptor is safe for concurrent use; all state lives in the key ring
type Encryptor struct {
	ring keyRing
}

func New(ring keyRing) *Encryptor {
	return &Encryptor{ring: ring}
}

// GenerateKey returns fresh random key material
func (e *Encryptor) GenerateKey() ([]byte, error) {
	key := make([]byte, aescipher.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: can't generate key. Err: %w", apperrors.ErrCrypto, err)
	}
	return key, nil
}

// GenerateEncryptedDataKey creates data key for a new user wrapped with the primary key
func (e *Encryptor) GenerateEncryptedDataKey() (models.EncryptedDataKey, error) {
	dataKey, err := e.GenerateKey()
	if err != nil {
		return models.EncryptedDataKey{}, err
	}
	defer memguard.WipeBytes(dataKey)

	return e.wrap(dataKey)
}

// EncryptFor encrypts plaintext with subject's data key
func (e *Encryptor) EncryptFor(dataKey models.EncryptedDataKey, plaintext []byte) ([]byte, error) {
	key, err := e.unwrap(dataKey)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	return aescipher.Encrypt(key, plaintext)
}

// DecryptFor decrypts ciphertext produced by EncryptFor with the same data key
func (e *Encryptor) DecryptFor(dataKey models.EncryptedDataKey, ciphertext []byte) ([]byte, error) {
	key, err := e.unwrap(dataKey)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	return aescipher.Decrypt(key, ciphertext)
}

// Encrypt encrypts plaintext directly with the primary key.
// For secrets that don't belong to a single user.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	key, _, err := e.primaryKey()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	return aescipher.Encrypt(key, plaintext)
}

// Decrypt decrypts ciphertext produced by Encrypt under the current primary key
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	key, _, err := e.primaryKey()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	return aescipher.Decrypt(key, ciphertext)
}

// Rewrap moves data key under the current primary key.
// Secrets encrypted with the data key stay valid.
func (e *Encryptor) Rewrap(dataKey models.EncryptedDataKey) (models.EncryptedDataKey, error) {
	key, err := e.unwrap(dataKey)
	if err != nil {
		return models.EncryptedDataKey{}, err
	}
	defer memguard.WipeBytes(key)

	return e.wrap(key)
}

func (e *Encryptor) wrap(dataKey []byte) (models.EncryptedDataKey, error) {
	key, keyID, err := e.primaryKey()
	if err != nil {
		return models.EncryptedDataKey{}, err
	}
	defer memguard.WipeBytes(key)

	wrapped, err := aescipher.Encrypt(key, dataKey)
	if err != nil {
		return models.EncryptedDataKey{}, err
	}

	return models.EncryptedDataKey{KeyIDUsed: keyID, EncryptedKey: wrapped}, nil
}

// unwrap uses the key the data key was wrapped with, which may no longer be primary
func (e *Encryptor) unwrap(dataKey models.EncryptedDataKey) ([]byte, error) {
	entry, err := e.ring.GetKey(dataKey.KeyIDUsed)
	if err != nil {
		return nil, err
	}

	key, err := entry.Bytes()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	plain, err := aescipher.Decrypt(key, dataKey.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("can't unwrap data key wrapped by %q: %w", dataKey.KeyIDUsed, err)
	}
	return plain, nil
}

func (e *Encryptor) primaryKey() ([]byte, string, error) {
	entry, err := e.ring.GetPrimaryKey()
	if err != nil {
		return nil, "", err
	}

	key, err := entry.Bytes()
	if err != nil {
		return nil, "", err
	}

	return key, entry.KeyID, nil
}
