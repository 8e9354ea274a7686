package parts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// Repository wires together part persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads the part without associations.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Part, error) {
	var part models.Part
	if err := r.db.WithContext(ctx).First(&part, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &part, nil
}

// Create inserts a new part row.
func (r *Repository) Create(ctx context.Context, part *models.Part) (*models.Part, error) {
	if part.ID == uuid.Nil {
		part.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(part).Error; err != nil {
		return nil, err
	}
	return part, nil
}

// Update saves an existing part row.
func (r *Repository) Update(ctx context.Context, part *models.Part) (*models.Part, error) {
	if err := r.db.WithContext(ctx).Save(part).Error; err != nil {
		return nil, err
	}
	return part, nil
}

// Delete removes a part by ID.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Part{}).Error
}

// ListCategories returns the distinct categories of purchasable parts.
func (r *Repository) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).
		Model(&models.Part{}).
		Where("is_available = ? AND quantity > 0", true).
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).
		Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

type partListQuery struct {
	Pagination pagination.Params
	Filters    PartListFilters

	// OwnerVendorID scopes the listing to a vendor's own parts and
	// disables the purchasable-only defaults.
	OwnerVendorID *uuid.UUID
}

// ListSummaries pages through part summaries newest first.
func (r *Repository) ListSummaries(ctx context.Context, query partListQuery) (*PartListResult, error) {
	pageSize := pagination.NormalizeLimit(query.Pagination.Limit)
	limitWithBuffer := pagination.LimitWithBuffer(query.Pagination.Limit)
	if limitWithBuffer <= pageSize {
		limitWithBuffer = pageSize + 1
	}

	cursor, err := pagination.ParseCursor(query.Pagination.Cursor)
	if err != nil {
		return nil, err
	}

	qb := r.db.WithContext(ctx).
		Table("parts p").
		Select(strings.Join([]string{
			"p.id",
			"p.vendor_id",
			"p.vendor_name",
			"p.name",
			"p.category",
			"p.sku",
			"p.brand",
			"p.image_url",
			"p.price_kobo",
			"p.quantity",
			"p.created_at",
		}, ", "))

	filter := query.Filters
	if filter.Category != nil {
		qb = qb.Where("p.category = ?", *filter.Category)
	}
	if filter.Brand != nil {
		qb = qb.Where("p.brand = ?", *filter.Brand)
	}
	if filter.VendorID != nil {
		qb = qb.Where("p.vendor_id = ?", *filter.VendorID)
	}
	if filter.PriceMinKobo != nil {
		qb = qb.Where("p.price_kobo >= ?", *filter.PriceMinKobo)
	}
	if filter.PriceMaxKobo != nil {
		qb = qb.Where("p.price_kobo <= ?", *filter.PriceMaxKobo)
	}
	if search := strings.TrimSpace(filter.Query); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		qb = qb.Where("(LOWER(p.name) LIKE ? OR LOWER(p.sku) LIKE ? OR LOWER(p.vendor_name) LIKE ?)", pattern, pattern, pattern)
	}

	if query.OwnerVendorID != nil {
		qb = qb.Where("p.vendor_id = ?", *query.OwnerVendorID)
	} else {
		qb = qb.Where("p.is_available = ?", true)
		qb = qb.Where("p.quantity > 0")
	}

	if cursor != nil {
		qb = qb.Where("(p.created_at < ?) OR (p.created_at = ? AND p.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	qb = qb.Order("p.created_at DESC").Order("p.id DESC").Limit(limitWithBuffer)

	var records []partSummaryRecord
	if err := qb.Scan(&records).Error; err != nil {
		return nil, err
	}

	resultRows := records
	nextCursor := ""
	if len(records) > pageSize {
		resultRows = records[:pageSize]
		last := resultRows[len(resultRows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	summaries := make([]PartSummary, 0, len(resultRows))
	for _, record := range resultRows {
		summaries = append(summaries, record.toSummary())
	}

	return &PartListResult{
		Parts:      summaries,
		NextCursor: nextCursor,
	}, nil
}

type partSummaryRecord struct {
	ID         uuid.UUID
	VendorID   uuid.UUID
	VendorName string
	Name       string
	Category   string
	SKU        string
	Brand      *string
	ImageURL   *string
	PriceKobo  int64
	Quantity   int
	CreatedAt  time.Time
}

func (r partSummaryRecord) toSummary() PartSummary {
	return PartSummary{
		ID:         r.ID,
		VendorID:   r.VendorID,
		VendorName: r.VendorName,
		Name:       r.Name,
		Category:   r.Category,
		SKU:        r.SKU,
		Brand:      r.Brand,
		ImageURL:   r.ImageURL,
		PriceKobo:  r.PriceKobo,
		Quantity:   r.Quantity,
		CreatedAt:  r.CreatedAt,
	}
}
