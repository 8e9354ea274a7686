package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/pkg/db"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
	"github.com/sparehub/sparehub-backend/pkg/paystack"
)

type fakeGateway struct {
	offline     bool
	initCalls   int
	verifyCalls int
	initFn      func(params paystack.InitializeParams) (*paystack.InitializeResult, error)
	verifyFn    func(reference string) (*paystack.VerifyResult, error)
}

func (f *fakeGateway) Offline() bool { return f.offline }

func (f *fakeGateway) InitializeTransaction(_ context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error) {
	f.initCalls++
	if f.initFn != nil {
		return f.initFn(params)
	}
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.test/" + params.Reference,
		AccessCode:       "access_" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

func (f *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*paystack.VerifyResult, error) {
	f.verifyCalls++
	if f.verifyFn != nil {
		return f.verifyFn(reference)
	}
	return &paystack.VerifyResult{Reference: reference, Status: paystack.StatusSuccess}, nil
}

type paymentsHarness struct {
	svc     Service
	repo    *orders.Repository
	conn    *gorm.DB
	gateway *fakeGateway
	client  *models.User
}

func newPaymentsHarness(t *testing.T) *paymentsHarness {
	t.Helper()

	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := &models.User{
		ID:       uuid.New(),
		Email:    "client@test.test",
		FullName: "Chidi Okafor",
		Role:     enums.UserRoleClient,
		IsActive: true,
	}
	if err := conn.Create(client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	gateway := &fakeGateway{}
	repo := orders.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		OrdersRepo: repo,
		DB:         db.NewWithConn(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Gateway:    gateway,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &paymentsHarness{svc: svc, repo: repo, conn: conn, gateway: gateway, client: client}
}

func (h *paymentsHarness) seedOrder(t *testing.T, totalKobo int64) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		ClientID:        h.client.ID,
		ClientName:      h.client.FullName,
		DeliveryAddress: "14 Adeola Odeku St",
		TotalKobo:       totalKobo,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		Items: []models.OrderLineItem{{
			ID:            uuid.New(),
			PartID:        uuid.New(),
			PartName:      "Brake Pad Set",
			PartSKU:       "BRK-100",
			VendorID:      uuid.New(),
			VendorName:    "Apex Motors",
			Quantity:      1,
			UnitPriceKobo: totalKobo,
			TotalKobo:     totalKobo,
		}},
	}
	if err := h.conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (h *paymentsHarness) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := h.conn.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return &order
}

func (h *paymentsHarness) clientActor() orders.Actor {
	return orders.Actor{UserID: h.client.ID, Role: enums.UserRoleClient, Name: h.client.FullName}
}

func (h *paymentsHarness) succeededEvents(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := h.conn.Where("event_type = ?", enums.EventPaymentSucceeded).Find(&rows).Error; err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	return rows
}

func TestInitializeStampsReferenceBeforeGatewayCall(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t, 500_000)

	var seenReference string
	h.gateway.initFn = func(params paystack.InitializeParams) (*paystack.InitializeResult, error) {
		seenReference = params.Reference
		stored := h.reload(t, order.ID)
		if stored.PaymentReference == nil || *stored.PaymentReference != params.Reference {
			t.Fatal("reference not persisted before the gateway call")
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway unreachable")
	}

	_, err := h.svc.Initialize(context.Background(), h.clientActor(), order.ID, "chidi@example.com")
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected DEPENDENCY_ERROR, got %v", err)
	}

	// The stored reference survives the outage for later recovery.
	stored := h.reload(t, order.ID)
	if stored.PaymentReference == nil || *stored.PaymentReference != seenReference {
		t.Fatalf("stored reference = %v, want %s", stored.PaymentReference, seenReference)
	}
	if !strings.HasPrefix(seenReference, "order_") {
		t.Fatalf("reference = %s, want order_ prefix", seenReference)
	}
}

func TestInitializeAmountIsOrderTotal(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t, 750_000)

	h.gateway.initFn = func(params paystack.InitializeParams) (*paystack.InitializeResult, error) {
		if params.AmountKobo != 750_000 {
			t.Fatalf("gateway amount = %d, want order total", params.AmountKobo)
		}
		return &paystack.InitializeResult{
			AuthorizationURL: "https://checkout.paystack.test/" + params.Reference,
			Reference:        params.Reference,
		}, nil
	}

	resp, err := h.svc.Initialize(context.Background(), h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resp.AmountKobo != 750_000 {
		t.Fatalf("response amount = %d", resp.AmountKobo)
	}
}

func TestInitializeMockReferenceOffline(t *testing.T) {
	h := newPaymentsHarness(t)
	h.gateway.offline = true
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(context.Background(), h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !paystack.IsMockReference(resp.Reference) {
		t.Fatalf("reference = %s, want mock_ prefix offline", resp.Reference)
	}
}

func TestInitializeGuards(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		_, err := h.svc.Initialize(ctx, h.clientActor(), uuid.New(), "chidi@example.com")
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
			t.Fatalf("expected NOT_FOUND, got %v", err)
		}
	})

	t.Run("foreign client", func(t *testing.T) {
		order := h.seedOrder(t, 100_000)
		_, err := h.svc.Initialize(ctx,
			orders.Actor{UserID: uuid.New(), Role: enums.UserRoleClient, Name: "Someone"},
			order.ID, "x@example.com")
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
			t.Fatalf("expected FORBIDDEN, got %v", err)
		}
	})

	t.Run("already paid", func(t *testing.T) {
		order := h.seedOrder(t, 100_000)
		if rows, err := h.repo.MarkPaid(ctx, order.ID); err != nil || rows != 1 {
			t.Fatalf("mark paid: rows=%d err=%v", rows, err)
		}
		_, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
			t.Fatalf("expected STATE_CONFLICT, got %v", err)
		}
	})

	t.Run("missing email", func(t *testing.T) {
		order := h.seedOrder(t, 100_000)
		_, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "  ")
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected VALIDATION_ERROR, got %v", err)
		}
	})
}

func TestVerifySettlesOnceAndIsIdempotent(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	h.gateway.verifyFn = func(reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{
			Reference:  reference,
			Status:     paystack.StatusSuccess,
			AmountKobo: 500_000,
		}, nil
	}

	first, err := h.svc.Verify(ctx, resp.Reference)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if !first.Settled || first.OrderStatus != enums.OrderStatusPaid || first.PaymentStatus != enums.PaymentStatusSuccess {
		t.Fatalf("first verify = %+v", first)
	}
	if h.gateway.verifyCalls != 1 {
		t.Fatalf("gateway calls = %d, want 1", h.gateway.verifyCalls)
	}

	second, err := h.svc.Verify(ctx, resp.Reference)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !second.Settled || second.OrderStatus != enums.OrderStatusPaid {
		t.Fatalf("second verify = %+v", second)
	}
	// The replay short-circuits without another gateway round trip.
	if h.gateway.verifyCalls != 1 {
		t.Fatalf("gateway calls = %d after replay, want 1", h.gateway.verifyCalls)
	}
	if rows := h.succeededEvents(t); len(rows) != 1 {
		t.Fatalf("payment.succeeded rows = %d, want exactly 1", len(rows))
	}
}

func TestVerifyUnknownReference(t *testing.T) {
	h := newPaymentsHarness(t)

	_, err := h.svc.Verify(context.Background(), "order_deadbeef_cafebabe")
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestVerifyGatewayFailureLeavesOrderUntouched(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	h.gateway.verifyFn = func(reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{Reference: reference, Status: "failed"}, nil
	}

	result, err := h.svc.Verify(ctx, resp.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Settled || result.GatewayStatus != "failed" {
		t.Fatalf("verify = %+v", result)
	}

	stored := h.reload(t, order.ID)
	if stored.Status != enums.OrderStatusPending || stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("order mutated on failed verify: %+v", stored)
	}
	if rows := h.succeededEvents(t); len(rows) != 0 {
		t.Fatalf("payment.succeeded rows = %d, want none", len(rows))
	}
}

func TestVerifyCancelledOrderNotResurrected(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rows, err := h.repo.UpdateStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusCancelled); err != nil || rows != 1 {
		t.Fatalf("cancel: rows=%d err=%v", rows, err)
	}

	h.gateway.verifyFn = func(reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{
			Reference:  reference,
			Status:     paystack.StatusSuccess,
			AmountKobo: 500_000,
		}, nil
	}

	_, err = h.svc.Verify(ctx, resp.Reference)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	stored := h.reload(t, order.ID)
	if stored.Status != enums.OrderStatusCancelled || stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("cancelled order mutated: %+v", stored)
	}
}

func TestVerifyAmountMismatch(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	h.gateway.verifyFn = func(reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{
			Reference:  reference,
			Status:     paystack.StatusSuccess,
			AmountKobo: 100, // short-paid
		}, nil
	}

	_, err = h.svc.Verify(ctx, resp.Reference)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	stored := h.reload(t, order.ID)
	if stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("order settled despite mismatch: %+v", stored)
	}
}

func TestVerifyMockResultSkipsAmountCheck(t *testing.T) {
	h := newPaymentsHarness(t)
	h.gateway.offline = true
	ctx := context.Background()
	order := h.seedOrder(t, 500_000)

	resp, err := h.svc.Initialize(ctx, h.clientActor(), order.ID, "chidi@example.com")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	h.gateway.verifyFn = func(reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{
			Reference: reference,
			Status:    paystack.StatusSuccess,
			Mock:      true,
		}, nil
	}

	result, err := h.svc.Verify(ctx, resp.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Settled {
		t.Fatalf("mock verify did not settle: %+v", result)
	}
}
