package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/repository"
)

type passwordHasher interface {
	Hash(password string) (string, error)
}

type encryptor interface {
	// New random data key wrapped by the primary key
	GenerateEncryptedDataKey() (models.EncryptedDataKey, error)

	// Wrap existing data key with the current primary key
	Rewrap(dataKey models.EncryptedDataKey) (models.EncryptedDataKey, error)
}

type UserService struct {
	hasher    passwordHasher
	encryptor encryptor
	storage   repository.Storage
	logger    logger.Logger
}

func NewService(hasher passwordHasher, encryptor encryptor, storage repository.Storage, l logger.Logger) (*UserService, error) {
	if hasher == nil || encryptor == nil || storage == nil {
		return nil, errors.New("hasher, encryptor and storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &UserService{
		hasher:    hasher,
		encryptor: encryptor,
		storage:   storage,
		logger:    l,
	}, nil
}

// CreateUser hashes password and provisions user data key in one insert
func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User
	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	dataKey, err := s.encryptor.GenerateEncryptedDataKey()
	if err != nil {
		return user, fmt.Errorf("can't provision user data key. Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, models.User{
		Username:       username,
		HashedPassword: hash,
		DataKey:        dataKey,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.storage.User().GetUserByUsername(ctx, username)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.storage.User().ListUsers(ctx)
}

type RotationResult struct {
	Rewrapped int
	Unchanged int

	// Data key was changed by somebody else while rotating
	Skipped int
}

// RotateDataKeys rewraps every user data key with the current primary key.
// Old root keys may be retired only after rotation finished without errors.
func (s *UserService) RotateDataKeys(ctx context.Context) (RotationResult, error) {
	var res RotationResult

	users, err := s.storage.User().ListUsers(ctx)
	if err != nil {
		return res, err
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rewrapped, err := s.encryptor.Rewrap(user.DataKey)
		if err != nil {
			return res, fmt.Errorf("can't rewrap data key of user %s. Err: %w", user.ID, err)
		}

		if rewrapped.KeyIDUsed == user.DataKey.KeyIDUsed {
			res.Unchanged++
			continue
		}

		err = s.storage.User().ReplaceDataKey(ctx, user.ID, user.DataKey, rewrapped)
		switch {
		case err == nil:
			res.Rewrapped++
		case errors.Is(err, apperrors.ErrDataKeyChanged):
			s.logger.Warn("data key changed while rotating, skipped", "user_id", user.ID)
			res.Skipped++
		default:
			return res, err
		}
	}

	s.logger.Info("data keys rotated",
		"rewrapped", res.Rewrapped,
		"unchanged", res.Unchanged,
		"skipped", res.Skipped,
	)

	return res, nil
}
