package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
)

type InstitutionRepo struct {
	DB DBTX
}

const institutionColumns = `id, user_id, created_at, name, provider, metadata`

const createInstitution = `-- name: CreateInstitution
INSERT INTO institutions (id, user_id, name, provider, external_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + institutionColumns

func (r *InstitutionRepo) Create(ctx context.Context, inst models.Institution) (models.Institution, error) {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}

	provider, metadata, err := encodeMetadata(inst.Metadata)
	if err != nil {
		return models.Institution{}, err
	}

	rows, _ := r.DB.Query(ctx, createInstitution, inst.ID, inst.UserID, inst.Name, provider, inst.Metadata.ExternalID(), metadata)
	created, err := pgx.CollectOneRow(rows, rowToInstitution)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrInstitutionAlreadyLinked
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getInstitution = `-- name: GetInstitution
SELECT ` + institutionColumns + ` FROM institutions
WHERE id = $1 AND user_id = $2
`

func (r *InstitutionRepo) Get(ctx context.Context, userID uuid.UUID, institutionID uuid.UUID) (models.Institution, error) {
	rows, _ := r.DB.Query(ctx, getInstitution, institutionID, userID)
	inst, err := pgx.CollectOneRow(rows, rowToInstitution)

	switch {
	case err == nil:
		return inst, nil
	case errors.Is(err, pgx.ErrNoRows):
		return inst, apperrors.ErrInstitutionNotFound
	default:
		return inst, fmt.Errorf("db error: %w", err)
	}
}

const listInstitutions = `-- name: ListInstitutions
SELECT ` + institutionColumns + ` FROM institutions
WHERE user_id = $1
ORDER BY created_at, id
`

func (r *InstitutionRepo) List(ctx context.Context, userID uuid.UUID) ([]models.Institution, error) {
	rows, _ := r.DB.Query(ctx, listInstitutions, userID)
	institutions, err := pgx.CollectRows(rows, rowToInstitution)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return institutions, nil
}

func rowToInstitution(row pgx.CollectableRow) (models.Institution, error) {
	var (
		inst     models.Institution
		provider models.Provider
		metadata []byte
	)

	if err := row.Scan(&inst.ID, &inst.UserID, &inst.CreatedAt, &inst.Name, &provider, &metadata); err != nil {
		return inst, err
	}

	m, err := decodeMetadata(provider, metadata)
	if err != nil {
		return inst, err
	}
	inst.Metadata = m

	return inst, nil
}

func encodeMetadata(m models.InstitutionMetadata) (models.Provider, []byte, error) {
	var (
		data []byte
		err  error
	)

	switch m := m.(type) {
	case models.PlaidMetadata:
		data, err = json.Marshal(m)
	default:
		return "", nil, fmt.Errorf("%w: %T", apperrors.ErrUnknownProvider, m)
	}

	if err != nil {
		return "", nil, fmt.Errorf("error while encoding %s metadata. Err: %w", m.Provider(), err)
	}
	return m.Provider(), data, nil
}

func decodeMetadata(provider models.Provider, data []byte) (models.InstitutionMetadata, error) {
	switch provider {
	case models.ProviderPlaid:
		var m models.PlaidMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("error while decoding plaid metadata. Err: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownProvider, provider)
	}
}
