package orders

import (
	"context"
	"encoding/json"
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
	"github.com/sparehub/sparehub-backend/pkg/outbox"
)

type ordersHarness struct {
	svc    Service
	repo   *Repository
	conn   *gorm.DB
	client *models.User
	vendor *models.User
}

func newOrdersHarness(t *testing.T) *ordersHarness {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
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
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := seedUser(t, conn, enums.UserRoleClient, "Chidi Okafor")
	vendor := seedUser(t, conn, enums.UserRoleVendor, "Apex Motors")

	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		DB:       db.NewWithConn(conn),
		Ledger:   inventory.NewLedger(),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		UserRepo: userFinder{conn: conn},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &ordersHarness{svc: svc, repo: repo, conn: conn, client: client, vendor: vendor}
}

type userFinder struct {
	conn *gorm.DB
}

func (f userFinder) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := f.conn.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func seedUser(t *testing.T, conn *gorm.DB, role enums.UserRole, name string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@test.test",
		FullName: name,
		Role:     role,
		IsActive: true,
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (h *ordersHarness) seedPart(t *testing.T, vendor *models.User, priceKobo int64, qty int) *models.Part {
	t.Helper()
	part := &models.Part{
		ID:          uuid.New(),
		VendorID:    vendor.ID,
		VendorName:  vendor.FullName,
		Name:        "Radiator Hose",
		Category:    "cooling",
		SKU:         "RAD-" + uuid.NewString()[:8],
		PriceKobo:   priceKobo,
		Quantity:    qty,
		IsAvailable: true,
	}
	if err := h.conn.Create(part).Error; err != nil {
		t.Fatalf("seed part: %v", err)
	}
	return part
}

func (h *ordersHarness) clientActor() Actor {
	return Actor{UserID: h.client.ID, Role: enums.UserRoleClient, Name: h.client.FullName}
}

func (h *ordersHarness) vendorActor() Actor {
	return Actor{UserID: h.vendor.ID, Role: enums.UserRoleVendor, Name: h.vendor.FullName}
}

func (h *ordersHarness) placeOrder(t *testing.T, items ...OrderItemInput) *OrderDTO {
	t.Helper()
	dto, err := h.svc.Create(context.Background(), h.clientActor(), CreateOrderInput{
		DeliveryAddress: "14 Adeola Odeku St, Victoria Island, Lagos",
		Items:           items,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return dto
}

func (h *ordersHarness) partQuantity(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var part models.Part
	if err := h.conn.First(&part, "id = ?", id).Error; err != nil {
		t.Fatalf("load part: %v", err)
	}
	return part.Quantity
}

func (h *ordersHarness) outboxEvents(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := h.conn.Where("event_type = ?", eventType).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	return rows
}

func TestCreateOrderReservesAndSnapshots(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 200_000, 10)

	dto := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 3})

	if dto.Status != enums.OrderStatusPending {
		t.Fatalf("status = %s, want pending", dto.Status)
	}
	if dto.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("payment_status = %s", dto.PaymentStatus)
	}
	if dto.TotalKobo != 600_000 {
		t.Fatalf("total = %d, want 600000", dto.TotalKobo)
	}
	if got := h.partQuantity(t, part.ID); got != 7 {
		t.Fatalf("part quantity = %d, want 7", got)
	}
	if len(dto.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(dto.Items))
	}
	item := dto.Items[0]
	if item.UnitPriceKobo != 200_000 || item.TotalKobo != 600_000 || item.VendorID != h.vendor.ID {
		t.Fatalf("line snapshot = %+v", item)
	}

	// Later price changes must not touch the frozen snapshot.
	if err := h.conn.Model(&models.Part{}).Where("id = ?", part.ID).
		Update("price_kobo", 999_999).Error; err != nil {
		t.Fatalf("reprice part: %v", err)
	}
	reloaded, err := h.svc.Get(context.Background(), h.clientActor(), dto.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if reloaded.Items[0].UnitPriceKobo != 200_000 {
		t.Fatalf("snapshot price moved to %d", reloaded.Items[0].UnitPriceKobo)
	}
}

func TestCreateOrderFailureLeavesNoTrace(t *testing.T) {
	h := newOrdersHarness(t)
	plentiful := h.seedPart(t, h.vendor, 100_000, 10)
	scarce := h.seedPart(t, h.vendor, 100_000, 1)

	_, err := h.svc.Create(context.Background(), h.clientActor(), CreateOrderInput{
		DeliveryAddress: "14 Adeola Odeku St",
		Items: []OrderItemInput{
			{PartID: plentiful.ID, Qty: 2},
			{PartID: scarce.ID, Qty: 5},
		},
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	if got := h.partQuantity(t, plentiful.ID); got != 10 {
		t.Fatalf("plentiful quantity = %d, want 10", got)
	}
	var orderCount int64
	if err := h.conn.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("orders = %d, want none", orderCount)
	}
	if rows := h.outboxEvents(t, enums.EventOrderCreated); len(rows) != 0 {
		t.Fatalf("outbox rows = %d, want none", len(rows))
	}
}

func TestCreateOrderEmitsDistinctVendors(t *testing.T) {
	h := newOrdersHarness(t)
	second := seedUser(t, h.conn, enums.UserRoleVendor, "Beta Parts")
	a := h.seedPart(t, h.vendor, 100_000, 5)
	b := h.seedPart(t, h.vendor, 150_000, 5)
	c := h.seedPart(t, second, 90_000, 5)

	h.placeOrder(t,
		OrderItemInput{PartID: a.ID, Qty: 1},
		OrderItemInput{PartID: b.ID, Qty: 1},
		OrderItemInput{PartID: c.ID, Qty: 1},
	)

	rows := h.outboxEvents(t, enums.EventOrderCreated)
	if len(rows) != 1 {
		t.Fatalf("order.created rows = %d, want 1", len(rows))
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var payload OrderCreatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.VendorIDs) != 2 {
		t.Fatalf("vendor ids = %v, want the two distinct vendors", payload.VendorIDs)
	}
}

func TestCreateOrderRejectsNonClient(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)

	_, err := h.svc.Create(context.Background(), h.vendorActor(), CreateOrderInput{
		DeliveryAddress: "somewhere",
		Items:           []OrderItemInput{{PartID: part.ID, Qty: 1}},
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestVendorConfirmsOrder(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 1})

	updated, err := h.svc.UpdateStatus(context.Background(), h.vendorActor(), order.ID, enums.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if updated.Status != enums.OrderStatusConfirmed {
		t.Fatalf("status = %s", updated.Status)
	}

	// A vendor without a line in the order cannot touch it.
	stranger := seedUser(t, h.conn, enums.UserRoleVendor, "Other Vendor")
	_, err = h.svc.UpdateStatus(context.Background(),
		Actor{UserID: stranger.ID, Role: enums.UserRoleVendor, Name: stranger.FullName},
		order.ID, enums.OrderStatusCancelled)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}

	// Confirming twice fails the state machine.
	_, err = h.svc.UpdateStatus(context.Background(), h.vendorActor(), order.ID, enums.OrderStatusConfirmed)
	appErr = pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestPaidAndAssignedAreReservedTransitions(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 1})
	admin := seedUser(t, h.conn, enums.UserRoleAdmin, "Root")

	for _, target := range []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusAssigned} {
		_, err := h.svc.UpdateStatus(context.Background(),
			Actor{UserID: admin.ID, Role: enums.UserRoleAdmin, Name: admin.FullName},
			order.ID, target)
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
			t.Fatalf("expected FORBIDDEN for %s, got %v", target, err)
		}
	}
}

func TestClientCancelReleasesStock(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 3})

	if got := h.partQuantity(t, part.ID); got != 2 {
		t.Fatalf("quantity after order = %d, want 2", got)
	}

	updated, err := h.svc.UpdateStatus(context.Background(), h.clientActor(), order.ID, enums.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if updated.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s", updated.Status)
	}
	if got := h.partQuantity(t, part.ID); got != 5 {
		t.Fatalf("quantity after cancel = %d, want restored 5", got)
	}
	if rows := h.outboxEvents(t, enums.EventOrderStatusChanged); len(rows) != 1 {
		t.Fatalf("status_changed rows = %d, want 1", len(rows))
	}
}

func TestCancelAfterTerminalStateRejected(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 1})

	if err := h.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusDelivered).Error; err != nil {
		t.Fatalf("force delivered: %v", err)
	}

	_, err := h.svc.UpdateStatus(context.Background(), h.clientActor(), order.ID, enums.OrderStatusCancelled)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
	if got := h.partQuantity(t, part.ID); got != 4 {
		t.Fatalf("quantity = %d, delivered order must not restock", got)
	}
}

func TestCancelAfterPaymentKeepsStock(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 2})

	if rows, err := h.repo.MarkPaid(context.Background(), order.ID); err != nil || rows != 1 {
		t.Fatalf("mark paid: rows=%d err=%v", rows, err)
	}

	_, err := h.svc.UpdateStatus(context.Background(), h.clientActor(), order.ID, enums.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel paid order: %v", err)
	}
	if got := h.partQuantity(t, part.ID); got != 3 {
		t.Fatalf("quantity = %d, paid cancellation must not restock", got)
	}
}

func TestDispatcherDeliveryProgression(t *testing.T) {
	h := newOrdersHarness(t)
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 1})
	dispatcher := seedUser(t, h.conn, enums.UserRoleDispatcher, "Musa Ibrahim")
	ctx := context.Background()

	if rows, err := h.repo.MarkPaid(ctx, order.ID); err != nil || rows != 1 {
		t.Fatalf("mark paid: rows=%d err=%v", rows, err)
	}
	if rows, err := h.repo.ClaimForDispatch(ctx, order.ID, dispatcher.ID, dispatcher.FullName); err != nil || rows != 1 {
		t.Fatalf("claim: rows=%d err=%v", rows, err)
	}

	actor := Actor{UserID: dispatcher.ID, Role: enums.UserRoleDispatcher, Name: dispatcher.FullName}
	for _, target := range []enums.OrderStatus{
		enums.OrderStatusPickedUp,
		enums.OrderStatusInTransit,
		enums.OrderStatusDelivered,
	} {
		updated, err := h.svc.UpdateStatus(ctx, actor, order.ID, target)
		if err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
		if updated.Status != target {
			t.Fatalf("status = %s, want %s", updated.Status, target)
		}
	}

	other := seedUser(t, h.conn, enums.UserRoleDispatcher, "Someone Else")
	_, err := h.svc.UpdateStatus(ctx,
		Actor{UserID: other.ID, Role: enums.UserRoleDispatcher, Name: other.FullName},
		order.ID, enums.OrderStatusCancelled)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for foreign dispatcher, got %v", err)
	}
}

func TestListScoping(t *testing.T) {
	h := newOrdersHarness(t)
	ctx := context.Background()
	otherVendor := seedUser(t, h.conn, enums.UserRoleVendor, "Beta Parts")
	dispatcher := seedUser(t, h.conn, enums.UserRoleDispatcher, "Musa Ibrahim")

	mine := h.seedPart(t, h.vendor, 100_000, 10)
	theirs := h.seedPart(t, otherVendor, 100_000, 10)

	first := h.placeOrder(t, OrderItemInput{PartID: mine.ID, Qty: 1})
	second := h.placeOrder(t, OrderItemInput{PartID: theirs.ID, Qty: 1})

	// second is paid and unassigned, so dispatchers can see it.
	if rows, err := h.repo.MarkPaid(ctx, second.ID); err != nil || rows != 1 {
		t.Fatalf("mark paid: rows=%d err=%v", rows, err)
	}

	clientList, err := h.svc.List(ctx, h.clientActor(), ListOrdersInput{})
	if err != nil {
		t.Fatalf("client list: %v", err)
	}
	if len(clientList.Orders) != 2 {
		t.Fatalf("client sees %d orders, want 2", len(clientList.Orders))
	}

	vendorList, err := h.svc.List(ctx, h.vendorActor(), ListOrdersInput{})
	if err != nil {
		t.Fatalf("vendor list: %v", err)
	}
	if len(vendorList.Orders) != 1 || vendorList.Orders[0].ID != first.ID {
		t.Fatalf("vendor list = %+v, want only own-line order", vendorList.Orders)
	}

	dispatcherList, err := h.svc.List(ctx,
		Actor{UserID: dispatcher.ID, Role: enums.UserRoleDispatcher, Name: dispatcher.FullName},
		ListOrdersInput{})
	if err != nil {
		t.Fatalf("dispatcher list: %v", err)
	}
	if len(dispatcherList.Orders) != 1 || dispatcherList.Orders[0].ID != second.ID {
		t.Fatalf("dispatcher list = %+v, want only claimable order", dispatcherList.Orders)
	}

	admin := seedUser(t, h.conn, enums.UserRoleAdmin, "Root")
	adminList, err := h.svc.List(ctx,
		Actor{UserID: admin.ID, Role: enums.UserRoleAdmin, Name: admin.FullName},
		ListOrdersInput{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(adminList.Orders) != 2 {
		t.Fatalf("admin sees %d orders, want 2", len(adminList.Orders))
	}
}

func TestGetVisibility(t *testing.T) {
	h := newOrdersHarness(t)
	ctx := context.Background()
	part := h.seedPart(t, h.vendor, 100_000, 5)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 1})

	otherClient := seedUser(t, h.conn, enums.UserRoleClient, "Ngozi Eze")
	_, err := h.svc.Get(ctx,
		Actor{UserID: otherClient.ID, Role: enums.UserRoleClient, Name: otherClient.FullName},
		order.ID)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for foreign client, got %v", err)
	}

	if _, err := h.svc.Get(ctx, h.vendorActor(), order.ID); err != nil {
		t.Fatalf("vendor get: %v", err)
	}

	_, err = h.svc.Get(ctx, h.clientActor(), uuid.New())
	appErr = pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCancelStaleReleasesStock(t *testing.T) {
	h := newOrdersHarness(t)
	ctx := context.Background()
	part := h.seedPart(t, h.vendor, 150_000, 8)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 3})

	if err := h.svc.CancelStale(ctx, order.ID); err != nil {
		t.Fatalf("cancel stale: %v", err)
	}

	var row models.Order
	if err := h.conn.First(&row, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if row.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", row.Status)
	}
	if got := h.partQuantity(t, part.ID); got != 8 {
		t.Fatalf("quantity = %d, want 8 after restock", got)
	}

	events := h.outboxEvents(t, enums.EventOrderStatusChanged)
	if len(events) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(events))
	}
}

func TestCancelStaleLosesRaceToPayment(t *testing.T) {
	h := newOrdersHarness(t)
	ctx := context.Background()
	part := h.seedPart(t, h.vendor, 150_000, 8)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 3})

	// Payment settles after the sweep picked the order up.
	if rows, err := h.repo.MarkPaid(ctx, order.ID); err != nil || rows != 1 {
		t.Fatalf("mark paid: rows=%d err=%v", rows, err)
	}

	err := h.svc.CancelStale(ctx, order.ID)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	var row models.Order
	if err := h.conn.First(&row, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if row.Status != enums.OrderStatusPaid {
		t.Fatalf("status = %s, want paid to survive the sweep", row.Status)
	}
	if got := h.partQuantity(t, part.ID); got != 5 {
		t.Fatalf("quantity = %d, want 5 (reservation kept)", got)
	}
}

func TestCancelStalePendingGuardRefusesPaidOrder(t *testing.T) {
	h := newOrdersHarness(t)
	ctx := context.Background()
	part := h.seedPart(t, h.vendor, 150_000, 8)
	order := h.placeOrder(t, OrderItemInput{PartID: part.ID, Qty: 2})

	if rows, err := h.repo.MarkPaid(ctx, order.ID); err != nil || rows != 1 {
		t.Fatalf("mark paid: rows=%d err=%v", rows, err)
	}
	rows, err := h.repo.CancelStalePending(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel stale pending: %v", err)
	}
	if rows != 0 {
		t.Fatalf("rows = %d, want 0 for a paid order", rows)
	}
}
