package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func testDataKey(keyID string) models.EncryptedDataKey {
	return models.EncryptedDataKey{KeyIDUsed: keyID, EncryptedKey: []byte("wrapped-" + keyID)}
}

func mustCreateUser(t *testing.T, db DBTX, username string) models.User {
	t.Helper()

	r := UserRepo{DB: db}
	user, err := r.CreateUser(t.Context(), models.User{
		Username:       username,
		HashedPassword: "hashedpassword123",
		DataKey:        testDataKey("k1"),
	})
	require.NoError(t, err, "user should be created")
	return user
}

func newRefreshToken(userID uuid.UUID, token string, expiresAt time.Time) models.RefreshToken {
	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		CreatedAt: mustParseTime("2024-01-01 19:00:01Z"),
		ExpiresAt: expiresAt,
	}
}
