package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Part{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPart(t *testing.T, db *gorm.DB, vendorID uuid.UUID, qty int) models.Part {
	t.Helper()

	part := models.Part{
		ID:         uuid.New(),
		VendorID:   vendorID,
		VendorName: "Apex Motors",
		Name:       "Brake Pad Set",
		Category:   "brakes",
		SKU:        "BRK-" + uuid.NewString()[:8],
		PriceKobo:  1_500_000,
		Quantity:   qty,
	}
	if err := db.Create(&part).Error; err != nil {
		t.Fatalf("seed part: %v", err)
	}
	return part
}

func partQuantity(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()

	var part models.Part
	if err := db.First(&part, "id = ?", id).Error; err != nil {
		t.Fatalf("load part: %v", err)
	}
	return part.Quantity
}

func TestReserveDecrementsEveryLine(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	first := seedPart(t, db, vendor, 10)
	second := seedPart(t, db, vendor, 4)

	var snapshots []models.Part
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		snapshots, err = ledger.Reserve(context.Background(), tx, []Line{
			{PartID: first.ID, Qty: 3},
			{PartID: second.ID, Qty: 4},
		})
		return err
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if got := partQuantity(t, db, first.ID); got != 7 {
		t.Fatalf("first part quantity = %d, want 7", got)
	}
	if got := partQuantity(t, db, second.ID); got != 0 {
		t.Fatalf("second part quantity = %d, want 0", got)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	for _, snap := range snapshots {
		if snap.PriceKobo != 1_500_000 {
			t.Fatalf("snapshot price = %d, want 1500000", snap.PriceKobo)
		}
	}
}

func TestReserveFailureLeavesEarlierLinesUntouched(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	plentiful := seedPart(t, db, vendor, 10)
	scarce := seedPart(t, db, vendor, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reserve(context.Background(), tx, []Line{
			{PartID: plentiful.ID, Qty: 2},
			{PartID: scarce.ID, Qty: 5},
		})
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	if got := partQuantity(t, db, plentiful.ID); got != 10 {
		t.Fatalf("plentiful part quantity = %d, want 10 after rollback", got)
	}
	if got := partQuantity(t, db, scarce.ID); got != 1 {
		t.Fatalf("scarce part quantity = %d, want 1 after rollback", got)
	}
}

func TestReserveItemizesAllShortfalls(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	first := seedPart(t, db, vendor, 1)
	second := seedPart(t, db, vendor, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reserve(context.Background(), tx, []Line{
			{PartID: first.ID, Qty: 3},
			{PartID: second.ID, Qty: 9},
		})
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	details, ok := appErr.Details().(map[string]any)
	if !ok {
		t.Fatalf("details = %T, want map", appErr.Details())
	}
	shortfalls, ok := details["shortfalls"].([]Shortfall)
	if !ok {
		t.Fatalf("shortfalls = %T, want []Shortfall", details["shortfalls"])
	}
	if len(shortfalls) != 2 {
		t.Fatalf("shortfalls = %d, want both failing parts itemized", len(shortfalls))
	}
	for _, sf := range shortfalls {
		switch sf.PartID {
		case first.ID:
			if sf.Requested != 3 || sf.Available != 1 {
				t.Fatalf("first shortfall = %+v", sf)
			}
		case second.ID:
			if sf.Requested != 9 || sf.Available != 2 {
				t.Fatalf("second shortfall = %+v", sf)
			}
		default:
			t.Fatalf("unexpected shortfall part %s", sf.PartID)
		}
	}
}

func TestReserveUnknownPart(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	known := seedPart(t, db, uuid.New(), 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reserve(context.Background(), tx, []Line{
			{PartID: known.ID, Qty: 1},
			{PartID: uuid.New(), Qty: 1},
		})
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if got := partQuantity(t, db, known.ID); got != 5 {
		t.Fatalf("known part quantity = %d, want 5", got)
	}
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	part := seedPart(t, db, uuid.New(), 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reserve(context.Background(), tx, []Line{
			{PartID: part.ID, Qty: 2},
			{PartID: part.ID, Qty: 3},
		})
		return err
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := partQuantity(t, db, part.ID); got != 0 {
		t.Fatalf("quantity = %d, want 0", got)
	}
}

func TestReserveValidation(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	part := seedPart(t, db, uuid.New(), 5)

	cases := []struct {
		name  string
		lines []Line
	}{
		{name: "empty", lines: nil},
		{name: "zero quantity", lines: []Line{{PartID: part.ID, Qty: 0}}},
		{name: "negative quantity", lines: []Line{{PartID: part.ID, Qty: -1}}},
		{name: "nil part id", lines: []Line{{Qty: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := ledger.Reserve(context.Background(), tx, tc.lines)
				return err
			})
			appErr := pkgerrors.As(err)
			if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestReservationsNeverExceedStock(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	part := seedPart(t, db, uuid.New(), 7)

	reserved := 0
	for i := 0; i < 10; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := ledger.Reserve(context.Background(), tx, []Line{{PartID: part.ID, Qty: 2}})
			return err
		})
		if err == nil {
			reserved += 2
			continue
		}
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
			t.Fatalf("expected INSUFFICIENT_STOCK once drained, got %v", err)
		}
	}

	if reserved != 6 {
		t.Fatalf("reserved %d units from stock of 7, want 6", reserved)
	}
	if got := partQuantity(t, db, part.ID); got != 1 {
		t.Fatalf("remaining quantity = %d, want 1", got)
	}
}

func TestReleaseRestoresQuantities(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	first := seedPart(t, db, vendor, 8)
	second := seedPart(t, db, vendor, 3)
	lines := []Line{
		{PartID: first.ID, Qty: 5},
		{PartID: second.ID, Qty: 3},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reserve(context.Background(), tx, lines)
		return err
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.Release(context.Background(), tx, lines)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	if got := partQuantity(t, db, first.ID); got != 8 {
		t.Fatalf("first part quantity = %d, want 8", got)
	}
	if got := partQuantity(t, db, second.ID); got != 3 {
		t.Fatalf("second part quantity = %d, want 3", got)
	}
}

func TestAdjustRestock(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	part := seedPart(t, db, vendor, 2)

	var updated *models.Part
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = ledger.Adjust(context.Background(), tx, part.ID, vendor, 10)
		return err
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if updated.Quantity != 12 {
		t.Fatalf("quantity = %d, want 12", updated.Quantity)
	}
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	part := seedPart(t, db, vendor, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Adjust(context.Background(), tx, part.ID, vendor, -5)
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}
	if got := partQuantity(t, db, part.ID); got != 2 {
		t.Fatalf("quantity = %d, want 2", got)
	}
}

func TestAdjustForeignVendor(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	part := seedPart(t, db, uuid.New(), 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Adjust(context.Background(), tx, part.ID, uuid.New(), 1)
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestAdjustUnknownPart(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Adjust(context.Background(), tx, uuid.New(), uuid.New(), 1)
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestAdjustZeroDelta(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger()
	vendor := uuid.New()
	part := seedPart(t, db, vendor, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Adjust(context.Background(), tx, part.ID, vendor, 0)
		return err
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}
