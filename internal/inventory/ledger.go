package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
)

// Line is one (part, quantity) pair of a reservation request.
type Line struct {
	PartID uuid.UUID `json:"part_id"`
	Qty    int       `json:"qty"`
}

// Shortfall itemizes one failing part of a rejected reservation.
type Shortfall struct {
	PartID    uuid.UUID `json:"part_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// Ledger owns every mutation of Part.Quantity. Reserve and Release run
// inside a caller-provided transaction; each row write is a conditional
// update re-validating its precondition, so two overlapping reservations
// can never oversell a part and any failure rolls the whole set back.
type Ledger struct{}

// NewLedger builds the inventory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve decrements the quantity of every line's part, all or nothing.
// Parts are processed in ascending id order so concurrent multi-part
// reservations cannot deadlock. It returns the part snapshots from the
// same consistent read, so callers price line items without a second
// lookup. Missing parts fail with NOT_FOUND, shortfalls with
// INSUFFICIENT_STOCK itemizing every failing part.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) ([]models.Part, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for reservation")
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	ids := sortedPartIDs(merged)
	parts, err := loadParts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if missing := missingPartIDs(ids, parts); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "part not found").
			WithDetails(map[string]any{"part_ids": missing})
	}

	byID := make(map[uuid.UUID]*models.Part, len(parts))
	for i := range parts {
		byID[parts[i].ID] = &parts[i]
	}

	var shortfalls []Shortfall
	for _, id := range ids {
		part := byID[id]
		if part.Quantity < merged[id] {
			shortfalls = append(shortfalls, Shortfall{
				PartID:    id,
				Requested: merged[id],
				Available: part.Quantity,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"shortfalls": shortfalls})
	}

	for _, id := range ids {
		qty := merged[id]
		res := tx.WithContext(ctx).Model(&models.Part{}).
			Where("id = ? AND quantity >= ?", id, qty).
			Update("quantity", gorm.Expr("quantity - ?", qty))
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement part quantity")
		}
		// A zero row count means another transaction drained the part
		// between our read and this write; abort so everything rolls back.
		if res.RowsAffected == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"shortfalls": []Shortfall{{
					PartID:    id,
					Requested: qty,
					Available: byID[id].Quantity,
				}}})
		}
		byID[id].Quantity -= qty
	}

	return parts, nil
}

// Release returns a prior reservation's quantities. It runs only inside
// the status transition transaction that cancels the order, which fires
// at most once, so a double release cannot occur.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required for release")
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	for _, id := range sortedPartIDs(merged) {
		res := tx.WithContext(ctx).Model(&models.Part{}).
			Where("id = ?", id).
			Update("quantity", gorm.Expr("quantity + ?", merged[id]))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore part quantity")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("part %s not found", id))
		}
	}
	return nil
}

// Adjust applies a vendor restock or correction to a single part.
// The update is conditional on the resulting quantity staying
// non-negative and the part belonging to the vendor.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, partID, vendorID uuid.UUID, delta int) (*models.Part, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for adjustment")
	}
	if delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}

	res := tx.WithContext(ctx).Model(&models.Part{}).
		Where("id = ? AND vendor_id = ? AND quantity + ? >= 0", partID, vendorID, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "adjust part quantity")
	}
	if res.RowsAffected == 0 {
		var part models.Part
		err := tx.WithContext(ctx).First(&part, "id = ?", partID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "part not found")
		case err != nil:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load part")
		case part.VendorID != vendorID:
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "part does not belong to vendor")
		default:
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "adjustment would drive quantity negative").
				WithDetails(map[string]any{"shortfalls": []Shortfall{{
					PartID:    partID,
					Requested: -delta,
					Available: part.Quantity,
				}}})
		}
	}

	var part models.Part
	if err := tx.WithContext(ctx).First(&part, "id = ?", partID).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload part")
	}
	return &part, nil
}

func mergeLines(lines []Line) (map[uuid.UUID]int, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	merged := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if line.PartID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "part id required")
		}
		if line.Qty < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		merged[line.PartID] += line.Qty
	}
	return merged, nil
}

func sortedPartIDs(merged map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return ids
}

func loadParts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.Part, error) {
	var parts []models.Part
	err := tx.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&parts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parts")
	}
	return parts, nil
}

func missingPartIDs(requested []uuid.UUID, found []models.Part) []uuid.UUID {
	if len(found) == len(requested) {
		return nil
	}
	present := make(map[uuid.UUID]struct{}, len(found))
	for _, part := range found {
		present[part.ID] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range requested {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
