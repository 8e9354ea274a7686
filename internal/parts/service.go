package parts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/internal/inventory"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
)

// Service exposes catalog and vendor part management operations.
type Service interface {
	CreatePart(ctx context.Context, vendorID uuid.UUID, input CreatePartInput) (*PartDTO, error)
	UpdatePart(ctx context.Context, vendorID, partID uuid.UUID, input UpdatePartInput) (*PartDTO, error)
	DeletePart(ctx context.Context, vendorID, partID uuid.UUID) error
	Restock(ctx context.Context, vendorID, partID uuid.UUID, delta int) (*PartDTO, error)
	GetPart(ctx context.Context, partID uuid.UUID) (*PartDTO, error)
	ListParts(ctx context.Context, input ListPartsInput) (*PartListResult, error)
	ListVendorParts(ctx context.Context, vendorID uuid.UUID, input ListPartsInput) (*PartListResult, error)
	ListCategories(ctx context.Context) ([]string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type vendorLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type service struct {
	repo     *Repository
	dbClient txRunner
	ledger   *inventory.Ledger
	users    vendorLoader
}

// NewService constructs a parts service instance.
func NewService(repo *Repository, dbClient txRunner, ledger *inventory.Ledger, users vendorLoader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("parts repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{repo: repo, dbClient: dbClient, ledger: ledger, users: users}, nil
}

// CreatePart creates a listing owned by the vendor. The vendor's display
// name is denormalized onto the row at insert time.
func (s *service) CreatePart(ctx context.Context, vendorID uuid.UUID, input CreatePartInput) (*PartDTO, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	vendor, err := s.ensureVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	part := &models.Part{
		VendorID:    vendorID,
		VendorName:  vendorDisplayName(vendor),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Category:    strings.ToLower(strings.TrimSpace(input.Category)),
		SKU:         strings.ToUpper(strings.TrimSpace(input.SKU)),
		Brand:       input.Brand,
		ImageURL:    input.ImageURL,
		PriceKobo:   input.PriceKobo,
		Quantity:    input.Quantity,
		IsAvailable: true,
	}
	if input.IsAvailable != nil {
		part.IsAvailable = *input.IsAvailable
	}

	created, err := s.repo.Create(ctx, part)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sku already exists for this vendor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert part")
	}
	return NewPartDTO(created), nil
}

// UpdatePart updates an existing listing. Quantity is never written here.
func (s *service) UpdatePart(ctx context.Context, vendorID, partID uuid.UUID, input UpdatePartInput) (*PartDTO, error) {
	if input.PriceKobo != nil && *input.PriceKobo <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_kobo must be positive")
	}

	part, err := s.loadOwnedPart(ctx, vendorID, partID)
	if err != nil {
		return nil, err
	}

	applyUpdateToPart(part, input)
	updated, err := s.repo.Update(ctx, part)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sku already exists for this vendor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update part")
	}
	return NewPartDTO(updated), nil
}

// DeletePart removes a listing owned by the vendor.
func (s *service) DeletePart(ctx context.Context, vendorID, partID uuid.UUID) error {
	if _, err := s.loadOwnedPart(ctx, vendorID, partID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, partID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: delete part")
	}
	return nil
}

// Restock adjusts on-hand stock through the inventory ledger.
func (s *service) Restock(ctx context.Context, vendorID, partID uuid.UUID, delta int) (*PartDTO, error) {
	var updated *models.Part
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = s.ledger.Adjust(ctx, tx, partID, vendorID, delta)
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock part")
	}
	return NewPartDTO(updated), nil
}

// GetPart returns the public detail for a single part.
func (s *service) GetPart(ctx context.Context, partID uuid.UUID) (*PartDTO, error) {
	part, err := s.repo.FindByID(ctx, partID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "part not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load part")
	}
	return NewPartDTO(part), nil
}

// ListParts pages the public catalog. Only available, in-stock parts
// appear.
func (s *service) ListParts(ctx context.Context, input ListPartsInput) (*PartListResult, error) {
	result, err := s.repo.ListSummaries(ctx, partListQuery{
		Pagination: input.Pagination,
		Filters:    input.Filters,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list parts")
	}
	return result, nil
}

// ListVendorParts pages the vendor's own listings, including ones that
// are out of stock or hidden.
func (s *service) ListVendorParts(ctx context.Context, vendorID uuid.UUID, input ListPartsInput) (*PartListResult, error) {
	result, err := s.repo.ListSummaries(ctx, partListQuery{
		Pagination:    input.Pagination,
		Filters:       input.Filters,
		OwnerVendorID: &vendorID,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendor parts")
	}
	return result, nil
}

// ListCategories returns the distinct categories with purchasable stock.
func (s *service) ListCategories(ctx context.Context) ([]string, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	return categories, nil
}

func (s *service) ensureVendor(ctx context.Context, vendorID uuid.UUID) (*models.User, error) {
	vendor, err := s.users.FindByID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor")
	}
	if vendor.Role != enums.UserRoleVendor {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "user is not a vendor")
	}
	if !vendor.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor account is deactivated")
	}
	return vendor, nil
}

func (s *service) loadOwnedPart(ctx context.Context, vendorID, partID uuid.UUID) (*models.Part, error) {
	part, err := s.repo.FindByID(ctx, partID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "part not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load part")
	}
	if part.VendorID != vendorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "part does not belong to vendor")
	}
	return part, nil
}

func vendorDisplayName(vendor *models.User) string {
	if vendor.BusinessName != nil && strings.TrimSpace(*vendor.BusinessName) != "" {
		return strings.TrimSpace(*vendor.BusinessName)
	}
	return vendor.FullName
}

func validateCreateInput(input CreatePartInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(input.Category) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "category is required")
	}
	if strings.TrimSpace(input.SKU) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	if input.PriceKobo <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price_kobo must be positive")
	}
	if input.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
	}
	return nil
}

func applyUpdateToPart(part *models.Part, input UpdatePartInput) {
	if input.Name != nil {
		part.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		part.Description = input.Description
	}
	if input.Category != nil {
		part.Category = strings.ToLower(strings.TrimSpace(*input.Category))
	}
	if input.SKU != nil {
		part.SKU = strings.ToUpper(strings.TrimSpace(*input.SKU))
	}
	if input.Brand != nil {
		part.Brand = input.Brand
	}
	if input.ImageURL != nil {
		part.ImageURL = input.ImageURL
	}
	if input.PriceKobo != nil {
		part.PriceKobo = *input.PriceKobo
	}
	if input.IsAvailable != nil {
		part.IsAvailable = *input.IsAvailable
	}
}
