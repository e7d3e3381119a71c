// Package aescipher encrypts payloads with AES-256-GCM.
// Output layout: nonce || ciphertext || tag. A fresh random nonce is used on every call.
package aescipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
)

// Size of raw key material in bytes
const KeySize = 32

var (
	errKeySize    = fmt.Errorf("key must be %d bytes", KeySize)
	errShortInput = errors.New("ciphertext too short")
	errOpen       = errors.New("message authentication failed")
)

func Encrypt(key []byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, cryptoError("encrypt", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cryptoError("encrypt", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func Decrypt(key []byte, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, cryptoError("decrypt", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, cryptoError("decrypt", errShortInput)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Wrong key and tampered payload look the same here
		return nil, cryptoError("decrypt", errOpen)
	}

	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

func cryptoError(op string, err error) error {
	return fmt.Errorf("%w: aes %s: %w", apperrors.ErrCrypto, op, err)
}
