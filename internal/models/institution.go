package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregation provider an institution is linked through
type Provider string

const (
	ProviderPlaid Provider = "plaid"
)

// Institution linked by user
type Institution struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	Name      string
	Metadata  InstitutionMetadata
}

func (i Institution) Provider() Provider {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata.Provider()
}

// Provider specific part of institution.
// Implemented by PlaidMetadata only; switch over concrete types to read fields.
type InstitutionMetadata interface {
	Provider() Provider

	// External id unique per user and provider
	ExternalID() string

	isInstitutionMetadata()
}

type PlaidMetadata struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`

	// Plaid access token encrypted with user data key
	EncryptedAccessToken []byte `json:"encrypted_access_token"`
}

func (PlaidMetadata) Provider() Provider { return ProviderPlaid }

func (m PlaidMetadata) ExternalID() string { return m.InstitutionID }

func (PlaidMetadata) isInstitutionMetadata() {}
