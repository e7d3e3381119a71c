package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/handlers/render"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{AccessToken: pair.Access.Value}
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,min=2,max=50,username"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Register(r.Context(), data.Login, data.Password)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
			return
		default:
			logger.Error("registration failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, newTokenResponse(pair))
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Login, data.Password)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrAuthentication):
			render.ServiceError(w, "Invalid username or password", http.StatusUnauthorized)
			return
		default:
			logger.Error("login failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, newTokenResponse(pair))
	})
}

// Rejections look the same whatever the reason, so callers can't probe tokens
func handleTokenRefresh(authService authService, logger logger.Logger) http.Handler {
	const invalidRequest = "Invalid refresh request"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claimedUserID, err := authService.GetClaimedUserID(r)
		if err != nil {
			render.ServiceError(w, invalidRequest, http.StatusBadRequest)
			return
		}

		refresh, err := authService.GetRefreshString(r)
		if err != nil {
			render.ServiceError(w, invalidRequest, http.StatusBadRequest)
			return
		}

		pair, err := authService.RefreshPair(r.Context(), claimedUserID, refresh)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrTheftDetected):
			render.ServiceError(w, "Forbidden", http.StatusForbidden)
			return
		case errors.Is(err, apperrors.ErrAuthentication):
			logger.Debug("refresh rejected", "user_id", claimedUserID, "reason", err)
			render.ServiceError(w, invalidRequest, http.StatusBadRequest)
			return
		default:
			logger.Error("refresh failed", "user_id", claimedUserID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, newTokenResponse(pair))
	})
}
