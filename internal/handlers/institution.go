package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/handlers/render"
	"github.com/nkiryanov/fiscalos/internal/handlers/userctx"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/service/institution"
)

// Institution as shown to its owner. Access tokens never leave the server
type institutionResponse struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Provider   models.Provider `json:"provider"`
	ExternalID string          `json:"external_id"`
	CreatedAt  time.Time       `json:"created_at"`

	// Plaid only
	ItemID string `json:"item_id,omitempty"`
}

func newInstitutionResponse(inst models.Institution) institutionResponse {
	res := institutionResponse{
		ID:        inst.ID,
		Name:      inst.Name,
		Provider:  inst.Provider(),
		CreatedAt: inst.CreatedAt,
	}

	switch m := inst.Metadata.(type) {
	case models.PlaidMetadata:
		res.ExternalID = m.ExternalID()
		res.ItemID = m.ItemID
	}

	return res
}

func handleListInstitutions(institutionService institutionService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		institutions, err := institutionService.List(r.Context(), user)
		if err != nil {
			logger.Error("listing institutions failed", "user_id", user.ID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]institutionResponse, 0, len(institutions))
		for _, inst := range institutions {
			res = append(res, newInstitutionResponse(inst))
		}
		render.JSON(w, res)
	})
}

func handleLinkInstitution(institutionService institutionService, logger logger.Logger) http.Handler {
	type request struct {
		Provider      models.Provider `json:"provider" validate:"required,oneof=plaid"`
		Name          string          `json:"name" validate:"required,max=200"`
		ItemID        string          `json:"item_id" validate:"required"`
		InstitutionID string          `json:"institution_id" validate:"required"`
		AccessToken   string          `json:"access_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		inst, err := institutionService.Link(r.Context(), user, institution.LinkRequest{
			Provider:      data.Provider,
			Name:          data.Name,
			ItemID:        data.ItemID,
			InstitutionID: data.InstitutionID,
			AccessToken:   data.AccessToken,
		})
		switch {
		case err == nil:
			render.JSONWithStatus(w, newInstitutionResponse(inst), http.StatusCreated)
		case errors.Is(err, apperrors.ErrInstitutionAlreadyLinked):
			render.ServiceError(w, "Institution already linked", http.StatusConflict)
		case errors.Is(err, apperrors.ErrUnknownProvider):
			render.ServiceError(w, "Unknown provider", http.StatusBadRequest)
		default:
			logger.Error("linking institution failed", "user_id", user.ID, "provider", data.Provider, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
