package parts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sparehub/sparehub-backend/internal/inventory"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

type fakeUserStore struct {
	rows map[uuid.UUID]*models.User
}

func (f *fakeUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

type partsHarness struct {
	svc    Service
	repo   *Repository
	conn   *gorm.DB
	users  *fakeUserStore
	vendor *models.User
}

func newHarness(t *testing.T) *partsHarness {
	t.Helper()

	dsn := "file:parts_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Part{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	business := "Apex Motors Ltd"
	vendor := &models.User{
		ID:           uuid.New(),
		Email:        "vendor@apex.test",
		FullName:     "Ade Balogun",
		Role:         enums.UserRoleVendor,
		BusinessName: &business,
		IsActive:     true,
	}
	users := &fakeUserStore{rows: map[uuid.UUID]*models.User{vendor.ID: vendor}}

	repo := NewRepository(conn)
	svc, err := NewService(repo, db.NewWithConn(conn), inventory.NewLedger(), users)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &partsHarness{svc: svc, repo: repo, conn: conn, users: users, vendor: vendor}
}

func validCreateInput() CreatePartInput {
	return CreatePartInput{
		Name:      "Oil Filter",
		Category:  "Filters",
		SKU:       "flt-100",
		PriceKobo: 450_000,
		Quantity:  12,
	}
}

func TestCreatePartDenormalizesVendorName(t *testing.T) {
	h := newHarness(t)

	dto, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if dto.VendorName != "Apex Motors Ltd" {
		t.Fatalf("vendor name = %q, want business name", dto.VendorName)
	}
	if dto.SKU != "FLT-100" {
		t.Fatalf("sku = %q, want uppercased", dto.SKU)
	}
	if dto.Category != "filters" {
		t.Fatalf("category = %q, want lowercased", dto.Category)
	}
	if !dto.IsAvailable {
		t.Fatal("new part should default to available")
	}
}

func TestCreatePartDuplicateSKU(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput())
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected CONFLICT on duplicate sku, got %v", err)
	}
}

func TestCreatePartRejectsNonVendor(t *testing.T) {
	h := newHarness(t)
	client := &models.User{
		ID:       uuid.New(),
		Email:    "client@test.test",
		FullName: "Chidi Okafor",
		Role:     enums.UserRoleClient,
		IsActive: true,
	}
	h.users.rows[client.ID] = client

	_, err := h.svc.CreatePart(context.Background(), client.ID, validCreateInput())
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCreatePartValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		mutate func(*CreatePartInput)
	}{
		{name: "missing name", mutate: func(in *CreatePartInput) { in.Name = " " }},
		{name: "missing category", mutate: func(in *CreatePartInput) { in.Category = "" }},
		{name: "missing sku", mutate: func(in *CreatePartInput) { in.SKU = "" }},
		{name: "zero price", mutate: func(in *CreatePartInput) { in.PriceKobo = 0 }},
		{name: "negative quantity", mutate: func(in *CreatePartInput) { in.Quantity = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validCreateInput()
			tc.mutate(&input)
			_, err := h.svc.CreatePart(context.Background(), h.vendor.ID, input)
			appErr := pkgerrors.As(err)
			if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestUpdatePartNeverTouchesQuantity(t *testing.T) {
	h := newHarness(t)

	created, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create part: %v", err)
	}

	newName := "Premium Oil Filter"
	newPrice := int64(550_000)
	updated, err := h.svc.UpdatePart(context.Background(), h.vendor.ID, created.ID, UpdatePartInput{
		Name:      &newName,
		PriceKobo: &newPrice,
	})
	if err != nil {
		t.Fatalf("update part: %v", err)
	}
	if updated.Name != newName || updated.PriceKobo != newPrice {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Quantity != 12 {
		t.Fatalf("quantity = %d, want untouched 12", updated.Quantity)
	}
}

func TestUpdatePartForeignVendor(t *testing.T) {
	h := newHarness(t)

	created, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create part: %v", err)
	}

	name := "Hijacked"
	_, err = h.svc.UpdatePart(context.Background(), uuid.New(), created.ID, UpdatePartInput{Name: &name})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestRestockThroughLedger(t *testing.T) {
	h := newHarness(t)

	created, err := h.svc.CreatePart(context.Background(), h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create part: %v", err)
	}

	updated, err := h.svc.Restock(context.Background(), h.vendor.ID, created.ID, 8)
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if updated.Quantity != 20 {
		t.Fatalf("quantity = %d, want 20", updated.Quantity)
	}

	_, err = h.svc.Restock(context.Background(), h.vendor.ID, created.ID, -25)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}
}

func TestListPartsHidesUnavailableByDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	visible, err := h.svc.CreatePart(ctx, h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create visible: %v", err)
	}

	hiddenInput := validCreateInput()
	hiddenInput.SKU = "FLT-HIDDEN"
	hidden := false
	hiddenInput.IsAvailable = &hidden
	if _, err := h.svc.CreatePart(ctx, h.vendor.ID, hiddenInput); err != nil {
		t.Fatalf("create hidden: %v", err)
	}

	drainedInput := validCreateInput()
	drainedInput.SKU = "FLT-EMPTY"
	drainedInput.Quantity = 0
	if _, err := h.svc.CreatePart(ctx, h.vendor.ID, drainedInput); err != nil {
		t.Fatalf("create drained: %v", err)
	}

	result, err := h.svc.ListParts(ctx, ListPartsInput{})
	if err != nil {
		t.Fatalf("list parts: %v", err)
	}
	if len(result.Parts) != 1 || result.Parts[0].ID != visible.ID {
		t.Fatalf("public listing = %+v, want only the in-stock available part", result.Parts)
	}

	mine, err := h.svc.ListVendorParts(ctx, h.vendor.ID, ListPartsInput{})
	if err != nil {
		t.Fatalf("list vendor parts: %v", err)
	}
	if len(mine.Parts) != 3 {
		t.Fatalf("vendor listing = %d rows, want all 3", len(mine.Parts))
	}
}

func TestListPartsCursorPagination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		input := validCreateInput()
		input.SKU = "FLT-" + uuid.NewString()[:8]
		if _, err := h.svc.CreatePart(ctx, h.vendor.ID, input); err != nil {
			t.Fatalf("create part %d: %v", i, err)
		}
	}

	seen := make(map[uuid.UUID]struct{})
	cursor := ""
	for page := 0; page < 4; page++ {
		result, err := h.svc.ListParts(ctx, ListPartsInput{
			Pagination: pagination.Params{Limit: 2, Cursor: cursor},
		})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, row := range result.Parts {
			if _, dup := seen[row.ID]; dup {
				t.Fatalf("part %s returned twice", row.ID)
			}
			seen[row.ID] = struct{}{}
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("paged through %d parts, want 5", len(seen))
	}
}

func TestListCategories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := validCreateInput()
	if _, err := h.svc.CreatePart(ctx, h.vendor.ID, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := validCreateInput()
	second.SKU = "BRK-200"
	second.Category = "Brakes"
	if _, err := h.svc.CreatePart(ctx, h.vendor.ID, second); err != nil {
		t.Fatalf("create: %v", err)
	}

	categories, err := h.svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(categories) != 2 || categories[0] != "brakes" || categories[1] != "filters" {
		t.Fatalf("categories = %v", categories)
	}
}

func TestDeletePart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreatePart(ctx, h.vendor.ID, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.DeletePart(ctx, h.vendor.ID, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = h.svc.GetPart(ctx, created.ID)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
}
