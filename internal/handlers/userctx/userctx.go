// Package userctx carries the authenticated user through request context.
package userctx

import (
	"context"

	"github.com/nkiryanov/fiscalos/internal/models"
)

type userKey struct{}

// New returns context holding user authenticated by middleware
func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns user set by New. ok is false on routes without auth
func FromContext(ctx context.Context) (u models.User, ok bool) {
	u, ok = ctx.Value(userKey{}).(models.User)
	return u, ok
}
