package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/api/responses"
	"github.com/sparehub/sparehub-backend/api/validators"
	partsvc "github.com/sparehub/sparehub-backend/internal/parts"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/logger"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

const maxSearchQueryLen = 120

// VendorCreatePart handles part creation for vendor accounts.
func VendorCreatePart(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		part, err := svc.CreatePart(r.Context(), actor.UserID, payload.toCreateInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, part)
	}
}

// VendorUpdatePart applies partial updates to an owned listing.
func VendorUpdatePart(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		partID, err := validators.ParsePathUUID(chi.URLParam(r, "partId"), "partId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updatePartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		part, err := svc.UpdatePart(r.Context(), actor.UserID, partID, payload.toUpdateInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, part)
	}
}

// VendorDeletePart removes an owned listing.
func VendorDeletePart(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		partID, err := validators.ParsePathUUID(chi.URLParam(r, "partId"), "partId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeletePart(r.Context(), actor.UserID, partID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// VendorRestockPart moves stock for an owned listing through the ledger.
func VendorRestockPart(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		partID, err := validators.ParsePathUUID(chi.URLParam(r, "partId"), "partId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		part, err := svc.Restock(r.Context(), actor.UserID, partID, payload.Delta)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, part)
	}
}

// VendorListParts lists the vendor's own catalog, hidden listings included.
func VendorListParts(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := listPartsInputFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListVendorParts(r.Context(), actor.UserID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListParts serves the public catalog with filters and cursor pagination.
func ListParts(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		input, err := listPartsInputFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListParts(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetPart returns a single listing.
func GetPart(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		partID, err := validators.ParsePathUUID(chi.URLParam(r, "partId"), "partId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		part, err := svc.GetPart(r.Context(), partID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, part)
	}
}

// ListPartCategories returns the distinct categories in the catalog.
func ListPartCategories(svc partsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "parts service unavailable"))
			return
		}

		categories, err := svc.ListCategories(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string][]string{"categories": categories})
	}
}

type createPartRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description,omitempty"`
	Category    string  `json:"category" validate:"required"`
	SKU         string  `json:"sku" validate:"required"`
	Brand       *string `json:"brand,omitempty"`
	ImageURL    *string `json:"image_url,omitempty" validate:"omitempty,url"`
	PriceKobo   int64   `json:"price_kobo" validate:"required,min=1"`
	Quantity    int     `json:"quantity" validate:"min=0"`
	IsAvailable *bool   `json:"is_available,omitempty"`
}

func (p createPartRequest) toCreateInput() partsvc.CreatePartInput {
	return partsvc.CreatePartInput{
		Name:        validators.SanitizeString(p.Name, 0),
		Description: p.Description,
		Category:    validators.SanitizeString(p.Category, 0),
		SKU:         validators.SanitizeString(p.SKU, 0),
		Brand:       p.Brand,
		ImageURL:    p.ImageURL,
		PriceKobo:   p.PriceKobo,
		Quantity:    p.Quantity,
		IsAvailable: p.IsAvailable,
	}
}

type updatePartRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	SKU         *string `json:"sku,omitempty"`
	Brand       *string `json:"brand,omitempty"`
	ImageURL    *string `json:"image_url,omitempty" validate:"omitempty,url"`
	PriceKobo   *int64  `json:"price_kobo,omitempty" validate:"omitempty,min=1"`
	IsAvailable *bool   `json:"is_available,omitempty"`
}

func (p updatePartRequest) toUpdateInput() partsvc.UpdatePartInput {
	return partsvc.UpdatePartInput{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		SKU:         p.SKU,
		Brand:       p.Brand,
		ImageURL:    p.ImageURL,
		PriceKobo:   p.PriceKobo,
		IsAvailable: p.IsAvailable,
	}
}

type restockRequest struct {
	Delta int `json:"delta" validate:"required"`
}

func listPartsInputFromQuery(r *http.Request) (partsvc.ListPartsInput, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit)
	if err != nil {
		return partsvc.ListPartsInput{}, err
	}

	input := partsvc.ListPartsInput{
		Pagination: pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		},
	}

	if category := validators.SanitizeString(r.URL.Query().Get("category"), 0); category != "" {
		input.Filters.Category = &category
	}
	if brand := validators.SanitizeString(r.URL.Query().Get("brand"), 0); brand != "" {
		input.Filters.Brand = &brand
	}
	if rawVendor := strings.TrimSpace(r.URL.Query().Get("vendor_id")); rawVendor != "" {
		vendorID, err := uuid.Parse(rawVendor)
		if err != nil {
			return partsvc.ListPartsInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vendor id")
		}
		input.Filters.VendorID = &vendorID
	}

	priceMin, err := validators.ParseQueryInt64(r, "price_min")
	if err != nil {
		return partsvc.ListPartsInput{}, err
	}
	input.Filters.PriceMinKobo = priceMin

	priceMax, err := validators.ParseQueryInt64(r, "price_max")
	if err != nil {
		return partsvc.ListPartsInput{}, err
	}
	input.Filters.PriceMaxKobo = priceMax

	input.Filters.Query = validators.SanitizeString(r.URL.Query().Get("q"), maxSearchQueryLen)

	return input, nil
}
