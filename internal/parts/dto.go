package parts

import (
	"time"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// PartDTO is the full part payload returned to clients.
type PartDTO struct {
	ID          uuid.UUID `json:"id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	VendorName  string    `json:"vendor_name"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Category    string    `json:"category"`
	SKU         string    `json:"sku"`
	Brand       *string   `json:"brand,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	PriceKobo   int64     `json:"price_kobo"`
	Quantity    int       `json:"quantity"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PartSummary is the trimmed listing row.
type PartSummary struct {
	ID         uuid.UUID `json:"id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	VendorName string    `json:"vendor_name"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	SKU        string    `json:"sku"`
	Brand      *string   `json:"brand,omitempty"`
	ImageURL   *string   `json:"image_url,omitempty"`
	PriceKobo  int64     `json:"price_kobo"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
}

// PartListResult pairs a page of summaries with the next cursor.
type PartListResult struct {
	Parts      []PartSummary `json:"parts"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// PartListFilters narrows the public catalog listing.
type PartListFilters struct {
	Category     *string
	Brand        *string
	VendorID     *uuid.UUID
	PriceMinKobo *int64
	PriceMaxKobo *int64
	Query        string
}

// ListPartsInput carries pagination and filters for a listing call.
type ListPartsInput struct {
	Pagination pagination.Params
	Filters    PartListFilters
}

// CreatePartInput holds the validated payload to create a listing.
type CreatePartInput struct {
	Name        string
	Description *string
	Category    string
	SKU         string
	Brand       *string
	ImageURL    *string
	PriceKobo   int64
	Quantity    int
	IsAvailable *bool
}

// UpdatePartInput holds optional mutation values. Quantity is absent on
// purpose; stock only moves through the inventory ledger.
type UpdatePartInput struct {
	Name        *string
	Description *string
	Category    *string
	SKU         *string
	Brand       *string
	ImageURL    *string
	PriceKobo   *int64
	IsAvailable *bool
}

// NewPartDTO builds a DTO from the persisted model.
func NewPartDTO(part *models.Part) *PartDTO {
	return &PartDTO{
		ID:          part.ID,
		VendorID:    part.VendorID,
		VendorName:  part.VendorName,
		Name:        part.Name,
		Description: part.Description,
		Category:    part.Category,
		SKU:         part.SKU,
		Brand:       part.Brand,
		ImageURL:    part.ImageURL,
		PriceKobo:   part.PriceKobo,
		Quantity:    part.Quantity,
		IsAvailable: part.IsAvailable,
		CreatedAt:   part.CreatedAt,
		UpdatedAt:   part.UpdatedAt,
	}
}
