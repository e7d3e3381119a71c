package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user with all fields set, including data key
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// All users ordered by creation time
	ListUsers(ctx context.Context) ([]models.User, error)

	// Replace user data key if it still equals to 'old'
	// Otherwise has to return apperrors.ErrDataKeyChanged
	ReplaceDataKey(ctx context.Context, userID uuid.UUID, old models.EncryptedDataKey, new models.EncryptedDataKey) error
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token even if it expired or revoked
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Revoke token if it is still active at 'now'. Must be atomic: only one of concurrent callers succeeds
	// If token not active (revoked, expired or missing) has to return apperrors.ErrRefreshTokenRevoked
	Revoke(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error)

	// Revoke every not revoked token of user, return number of revoked tokens
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Count user tokens not revoked and not expired at 'now'
	CountActive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

// Institution repository interface
type InstitutionRepo interface {
	// Has to return apperrors.ErrInstitutionAlreadyLinked if user linked the same provider institution
	Create(ctx context.Context, institution models.Institution) (models.Institution, error)

	// If not found or belongs to other user must return apperrors.ErrInstitutionNotFound
	Get(ctx context.Context, userID uuid.UUID, institutionID uuid.UUID) (models.Institution, error)

	List(ctx context.Context, userID uuid.UUID) ([]models.Institution, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Institution() InstitutionRepo

	// Run fn in transaction; commit if fn returns nil
	InTx(ctx context.Context, fn func(Storage) error) error
}
