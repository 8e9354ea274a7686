package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	usersvc "github.com/sparehub/sparehub-backend/internal/users"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
)

type adminHarness struct {
	svc  Service
	conn *gorm.DB
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()

	dsn := "file:admin_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Part{},
		&models.Order{},
		&models.OrderLineItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		UserRepo: usersvc.NewRepository(conn),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &adminHarness{svc: svc, conn: conn}
}

func (h *adminHarness) seedUser(t *testing.T, role enums.UserRole, name string, createdAt time.Time) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@test.test",
		FullName:  name,
		Role:      role,
		IsActive:  true,
		CreatedAt: createdAt,
	}
	if err := h.conn.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (h *adminHarness) seedOrder(t *testing.T, clientID uuid.UUID, status enums.OrderStatus, paid bool, totalKobo int64) {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		ClientID:        clientID,
		ClientName:      "Client",
		DeliveryAddress: "12 Allen Avenue, Ikeja, Lagos",
		TotalKobo:       totalKobo,
		Status:          status,
	}
	if paid {
		order.PaymentStatus = enums.PaymentStatusSuccess
	}
	if err := h.conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestListUsersFiltersAndPaginates(t *testing.T) {
	h := newAdminHarness(t)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		h.seedUser(t, enums.UserRoleVendor, "Vendor", base.Add(time.Duration(i)*time.Minute))
	}
	h.seedUser(t, enums.UserRoleClient, "Client", base)

	seen := map[uuid.UUID]bool{}
	cursor := ""
	for {
		page, err := h.svc.ListUsers(context.Background(), ListUsersInput{Limit: 2, Cursor: cursor, Role: "vendor"})
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		for _, item := range page.Items {
			if item.Role != enums.UserRoleVendor {
				t.Fatalf("role = %s, want vendor only", item.Role)
			}
			if seen[item.ID] {
				t.Fatalf("user %s returned twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if len(seen) != 3 {
		t.Fatalf("vendors = %d, want 3", len(seen))
	}
}

func TestListUsersRejectsBadFilters(t *testing.T) {
	h := newAdminHarness(t)

	_, err := h.svc.ListUsers(context.Background(), ListUsersInput{Role: "superuser"})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	_, err = h.svc.ListUsers(context.Background(), ListUsersInput{Cursor: "garbage"})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestStatsAggregates(t *testing.T) {
	h := newAdminHarness(t)
	now := time.Now().UTC()
	client := h.seedUser(t, enums.UserRoleClient, "Client", now)
	h.seedUser(t, enums.UserRoleVendor, "Vendor", now)
	h.seedUser(t, enums.UserRoleDispatcher, "Dispatcher", now)

	h.seedOrder(t, client.ID, enums.OrderStatusPending, false, 100000)
	h.seedOrder(t, client.ID, enums.OrderStatusPaid, true, 250000)
	h.seedOrder(t, client.ID, enums.OrderStatusDelivered, true, 400000)
	h.seedOrder(t, client.ID, enums.OrderStatusCancelled, false, 50000)

	stats, err := h.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUsers != 3 {
		t.Fatalf("total users = %d, want 3", stats.TotalUsers)
	}
	if stats.UsersByRole["vendor"] != 1 || stats.UsersByRole["dispatcher"] != 1 {
		t.Fatalf("users by role = %v", stats.UsersByRole)
	}
	if stats.TotalOrders != 4 || stats.PendingOrders != 1 || stats.PaidOrders != 1 {
		t.Fatalf("order counts = %+v", stats)
	}
	if stats.DeliveredOrders != 1 || stats.CancelledOrders != 1 {
		t.Fatalf("order counts = %+v", stats)
	}
	if stats.RevenueKobo != 650000 {
		t.Fatalf("revenue = %d, want 650000", stats.RevenueKobo)
	}
}

func TestSetUserStatus(t *testing.T) {
	h := newAdminHarness(t)
	admin := h.seedUser(t, enums.UserRoleAdmin, "Ops Admin", time.Now().UTC())
	vendor := h.seedUser(t, enums.UserRoleVendor, "Apex Motors", time.Now().UTC())

	dto, err := h.svc.SetUserStatus(context.Background(), admin.ID, vendor.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if dto.IsActive {
		t.Fatal("user still active after deactivation")
	}

	dto, err = h.svc.SetUserStatus(context.Background(), admin.ID, vendor.ID, true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !dto.IsActive {
		t.Fatal("user still inactive after activation")
	}
}

func TestSetUserStatusGuards(t *testing.T) {
	h := newAdminHarness(t)
	admin := h.seedUser(t, enums.UserRoleAdmin, "Ops Admin", time.Now().UTC())

	t.Run("self deactivation", func(t *testing.T) {
		_, err := h.svc.SetUserStatus(context.Background(), admin.ID, admin.ID, false)
		if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
			t.Fatalf("err = %v, want CONFLICT", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := h.svc.SetUserStatus(context.Background(), admin.ID, uuid.New(), false)
		if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
			t.Fatalf("err = %v, want NOT_FOUND", err)
		}
	})
}
