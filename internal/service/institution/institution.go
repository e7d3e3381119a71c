// Package institution links financial institutions to users.
// Provider access tokens are stored encrypted with the owning user's data key.
package institution

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/repository"
)

type encryptor interface {
	EncryptFor(dataKey models.EncryptedDataKey, plaintext []byte) ([]byte, error)
	DecryptFor(dataKey models.EncryptedDataKey, ciphertext []byte) ([]byte, error)
}

type InstitutionService struct {
	encryptor encryptor
	storage   repository.Storage
}

func NewService(encryptor encryptor, storage repository.Storage) (*InstitutionService, error) {
	if encryptor == nil || storage == nil {
		return nil, errors.New("encryptor and storage must not be nil")
	}
	return &InstitutionService{encryptor: encryptor, storage: storage}, nil
}

// What provider returned after user linked institution
type LinkRequest struct {
	Provider models.Provider
	Name     string

	// Plaid: item id, institution id and item access token
	ItemID        string
	InstitutionID string
	AccessToken   string
}

func (s *InstitutionService) Link(ctx context.Context, user models.User, req LinkRequest) (models.Institution, error) {
	if user.DataKey.IsZero() {
		return models.Institution{}, fmt.Errorf("%w: user %s has no data key", apperrors.ErrConfiguration, user.ID)
	}

	var metadata models.InstitutionMetadata

	switch req.Provider {
	case models.ProviderPlaid:
		encrypted, err := s.encryptor.EncryptFor(user.DataKey, []byte(req.AccessToken))
		if err != nil {
			return models.Institution{}, fmt.Errorf("can't encrypt access token. Err: %w", err)
		}
		metadata = models.PlaidMetadata{
			ItemID:               req.ItemID,
			InstitutionID:        req.InstitutionID,
			EncryptedAccessToken: encrypted,
		}
	default:
		return models.Institution{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownProvider, req.Provider)
	}

	return s.storage.Institution().Create(ctx, models.Institution{
		UserID:   user.ID,
		Name:     req.Name,
		Metadata: metadata,
	})
}

func (s *InstitutionService) List(ctx context.Context, user models.User) ([]models.Institution, error) {
	return s.storage.Institution().List(ctx, user.ID)
}

// AccessToken returns decrypted provider access token of user institution
func (s *InstitutionService) AccessToken(ctx context.Context, user models.User, institutionID uuid.UUID) (string, error) {
	inst, err := s.storage.Institution().Get(ctx, user.ID, institutionID)
	if err != nil {
		return "", err
	}

	plain, err := s.decryptAccessToken(user, inst)
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(plain)

	return string(plain), nil
}

type VerifyResult struct {
	Institution models.Institution

	// Nil if access token decrypts
	Err error
}

// Verify tries to decrypt every stored access token of user.
// Decrypted tokens are wiped right away.
func (s *InstitutionService) Verify(ctx context.Context, user models.User) ([]VerifyResult, error) {
	institutions, err := s.storage.Institution().List(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	results := make([]VerifyResult, 0, len(institutions))
	for _, inst := range institutions {
		plain, err := s.decryptAccessToken(user, inst)
		memguard.WipeBytes(plain)

		results = append(results, VerifyResult{Institution: inst, Err: err})
	}

	return results, nil
}

func (s *InstitutionService) decryptAccessToken(user models.User, inst models.Institution) ([]byte, error) {
	switch m := inst.Metadata.(type) {
	case models.PlaidMetadata:
		plain, err := s.encryptor.DecryptFor(user.DataKey, m.EncryptedAccessToken)
		if err != nil {
			return nil, fmt.Errorf("can't decrypt access token of institution %s. Err: %w", inst.ID, err)
		}
		return plain, nil
	default:
		return nil, fmt.Errorf("%w: %T", apperrors.ErrUnknownProvider, m)
	}
}
