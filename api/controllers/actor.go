package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/api/middleware"
	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
)

// actorFromRequest rebuilds the authenticated actor from the values the
// auth middleware seeded into the request context.
func actorFromRequest(r *http.Request) (orders.Actor, error) {
	rawID := middleware.UserIDFromContext(r.Context())
	if rawID == "" {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return orders.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}

	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return orders.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid actor role")
	}

	return orders.Actor{
		UserID: userID,
		Role:   role,
		Name:   middleware.FullNameFromContext(r.Context()),
	}, nil
}
