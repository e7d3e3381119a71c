package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string

	// Personal data key wrapped by the key ring. Set together with the user, never separately.
	DataKey EncryptedDataKey
}

// Wrapped form of a random data key
type EncryptedDataKey struct {
	// Key ring entry that wrapped the key
	KeyIDUsed string

	// Ciphertext of the data key
	EncryptedKey []byte
}

func (k EncryptedDataKey) IsZero() bool {
	return k.KeyIDUsed == "" && len(k.EncryptedKey) == 0
}
