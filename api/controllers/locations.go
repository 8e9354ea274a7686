package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparehub/sparehub-backend/api/responses"
	"github.com/sparehub/sparehub-backend/api/validators"
	locationsvc "github.com/sparehub/sparehub-backend/internal/locations"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/logger"
)

// UpdateLocation stores the dispatcher's latest position.
func UpdateLocation(svc locationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload locationsvc.UpdateInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		location, err := svc.Update(r.Context(), actor.UserID, actor.Role, actor.Name, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, location)
	}
}

// ListDispatcherLocations returns every dispatcher with a fresh position.
func ListDispatcherLocations(svc locationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		locations, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"dispatchers": locations})
	}
}

// GetDispatcherLocation returns the latest position for one dispatcher.
func GetDispatcherLocation(svc locationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		dispatcherID, err := validators.ParsePathUUID(chi.URLParam(r, "userId"), "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		location, err := svc.Get(r.Context(), dispatcherID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, location)
	}
}
