package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, password_hash, encryption_key_id, encrypted_data_key`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, password_hash, encryption_key_id, encrypted_data_key)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

// CreateUser stores user with its data key in one statement
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.DataKey.KeyIDUsed == "" || len(user.DataKey.EncryptedKey) == 0 {
		return models.User{}, errors.New("user data key must be set on create")
	}

	rows, _ := r.DB.Query(ctx, createUser,
		user.ID,
		user.Username,
		user.HashedPassword,
		user.DataKey.KeyIDUsed,
		user.DataKey.EncryptedKey,
	)
	created, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrUserAlreadyExists
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + ` FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + ` FROM users
ORDER BY created_at, id
`

func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, _ := r.DB.Query(ctx, listUsers)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

const replaceDataKey = `-- name: ReplaceDataKey
UPDATE users
SET encryption_key_id = $4, encrypted_data_key = $5
WHERE id = $1 AND encryption_key_id = $2 AND encrypted_data_key = $3
`

func (r *UserRepo) ReplaceDataKey(ctx context.Context, userID uuid.UUID, old models.EncryptedDataKey, new models.EncryptedDataKey) error {
	tag, err := r.DB.Exec(ctx, replaceDataKey, userID, old.KeyIDUsed, old.EncryptedKey, new.KeyIDUsed, new.EncryptedKey)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrDataKeyChanged
	default:
		return nil
	}
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.HashedPassword, &u.DataKey.KeyIDUsed, &u.DataKey.EncryptedKey)
	return u, err
}
