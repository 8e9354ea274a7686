package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
	"github.com/sparehub/sparehub-backend/pkg/paystack"
)

// Service exposes payment initialization and reconciliation.
type Service interface {
	Initialize(ctx context.Context, actor orders.Actor, orderID uuid.UUID, email string) (*InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*VerifyResponse, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	Offline() bool
	InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// ServiceParams bundles the payment service dependencies.
type ServiceParams struct {
	OrdersRepo *orders.Repository
	DB         txRunner
	Outbox     outboxPublisher
	Gateway    gatewayClient
}

type service struct {
	ordersRepo *orders.Repository
	db         txRunner
	outbox     outboxPublisher
	gateway    gatewayClient
}

// NewService constructs the payment reconciliation service.
func NewService(params ServiceParams) (Service, error) {
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &service{
		ordersRepo: params.OrdersRepo,
		db:         params.DB,
		outbox:     params.Outbox,
		gateway:    params.Gateway,
	}, nil
}

// Initialize starts a checkout session for the order. The reference is
// stamped onto the order before the gateway is called, so a gateway
// outage leaves a recoverable reference rather than a dangling session.
func (s *service) Initialize(ctx context.Context, actor orders.Actor, orderID uuid.UUID, email string) (*InitializeResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.UserRoleAdmin && order.ClientID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another client")
	}
	if order.PaymentStatus == enums.PaymentStatusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}

	reference := buildReference(order.ID, s.gateway.Offline())
	rows, err := s.ordersRepo.SetPaymentReference(ctx, order.ID, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: stamp payment reference")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order settled concurrently")
	}

	result, err := s.gateway.InitializeTransaction(ctx, paystack.InitializeParams{
		Email:      email,
		AmountKobo: order.TotalKobo,
		Reference:  reference,
	})
	if err != nil {
		return nil, err
	}

	return &InitializeResponse{
		Reference:        result.Reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		AmountKobo:       order.TotalKobo,
	}, nil
}

// Verify reconciles a gateway reference against the order. Replays are
// harmless: an already-settled order returns its current state without
// touching the database or emitting another event.
func (s *service) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	order, err := s.ordersRepo.FindByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by reference")
	}

	if order.PaymentStatus == enums.PaymentStatusSuccess {
		return s.response(order, paystack.StatusSuccess, order.TotalKobo, true), nil
	}

	result, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if result.Status != paystack.StatusSuccess {
		// Failed or pending at the gateway: the order stays untouched.
		return s.response(order, result.Status, result.AmountKobo, false), nil
	}
	if !result.Mock && result.AmountKobo != order.TotalKobo {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "settled amount does not match order total").
			WithDetails(map[string]any{
				"expected_kobo": order.TotalKobo,
				"settled_kobo":  result.AmountKobo,
			})
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.ordersRepo.WithTx(tx)

		rows, err := txRepo.MarkPaid(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: mark order paid")
		}
		if rows == 0 {
			latest, err := txRepo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			if latest.PaymentStatus == enums.PaymentStatusSuccess {
				// A concurrent verify settled it first; nothing to do.
				order = latest
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("payment succeeded but order is %s", latest.Status))
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSucceeded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: PaymentSucceededEvent{
				OrderID:    order.ID,
				ClientID:   order.ClientID,
				Reference:  reference,
				AmountKobo: order.TotalKobo,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment")
	}

	settled, err := s.ordersRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return s.response(settled, result.Status, order.TotalKobo, true), nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) response(order *models.Order, gatewayStatus string, amount int64, settled bool) *VerifyResponse {
	reference := ""
	if order.PaymentReference != nil {
		reference = *order.PaymentReference
	}
	return &VerifyResponse{
		Reference:     reference,
		OrderID:       order.ID,
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
		GatewayStatus: gatewayStatus,
		AmountKobo:    amount,
		Settled:       settled,
	}
}

// buildReference mints the locally generated transaction reference:
// order_<id8>_<rand8>, or mock_<id8>_<rand8> when the gateway runs
// offline so verification can short-circuit deterministically.
func buildReference(orderID uuid.UUID, offline bool) string {
	id8 := strings.ReplaceAll(orderID.String(), "-", "")[:8]
	rand8 := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	prefix := "order_"
	if offline {
		prefix = "mock_"
	}
	return prefix + id8 + "_" + rand8
}
