package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/handlers/render"
	"github.com/nkiryanov/fiscalos/internal/handlers/userctx"
	"github.com/nkiryanov/fiscalos/internal/models"
)

type authService interface {
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

// AuthMiddleware puts authenticated user to request context or responds with 401
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.GetUserFromRequest(r.Context(), r)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrAuthentication):
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			default:
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
