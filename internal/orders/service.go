package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/internal/inventory"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
)

// Service exposes the order workflow operations.
type Service interface {
	Create(ctx context.Context, actor Actor, input CreateOrderInput) (*OrderDTO, error)
	UpdateStatus(ctx context.Context, actor Actor, orderID uuid.UUID, target enums.OrderStatus) (*OrderDTO, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error)
	List(ctx context.Context, actor Actor, input ListOrdersInput) (*OrderListResult, error)
	CancelStale(ctx context.Context, orderID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type clientLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ServiceParams bundles the order service dependencies.
type ServiceParams struct {
	Repo     *Repository
	DB       txRunner
	Ledger   *inventory.Ledger
	Outbox   outboxPublisher
	UserRepo clientLoader
}

type service struct {
	repo   *Repository
	db     txRunner
	ledger *inventory.Ledger
	outbox outboxPublisher
	users  clientLoader
}

// NewService constructs the order workflow service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{
		repo:   params.Repo,
		db:     params.DB,
		ledger: params.Ledger,
		outbox: params.Outbox,
		users:  params.UserRepo,
	}, nil
}

// Create places an order. Stock reservation, line snapshotting, order
// insert, and the order.created outbox row all share one transaction,
// so a failing line leaves no trace.
func (s *service) Create(ctx context.Context, actor Actor, input CreateOrderInput) (*OrderDTO, error) {
	if actor.Role != enums.UserRoleClient {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only clients place orders")
	}
	if strings.TrimSpace(input.DeliveryAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery_address is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	lines := make([]inventory.Line, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, inventory.Line{PartID: item.PartID, Qty: item.Qty})
	}

	client, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "client not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load client")
	}

	var orderID uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		snapshots, err := s.ledger.Reserve(ctx, tx, lines)
		if err != nil {
			return err
		}

		byID := make(map[uuid.UUID]*models.Part, len(snapshots))
		for i := range snapshots {
			byID[snapshots[i].ID] = &snapshots[i]
		}

		// Duplicate part lines were merged by the ledger; merge the
		// snapshot rows the same way.
		merged := make(map[uuid.UUID]int, len(lines))
		ordered := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			if _, ok := merged[line.PartID]; !ok {
				ordered = append(ordered, line.PartID)
			}
			merged[line.PartID] += line.Qty
		}

		var total int64
		items := make([]models.OrderLineItem, 0, len(ordered))
		for _, partID := range ordered {
			part := byID[partID]
			qty := merged[partID]
			lineTotal := part.PriceKobo * int64(qty)
			total += lineTotal
			items = append(items, models.OrderLineItem{
				PartID:        part.ID,
				PartName:      part.Name,
				PartSKU:       part.SKU,
				VendorID:      part.VendorID,
				VendorName:    part.VendorName,
				Quantity:      qty,
				UnitPriceKobo: part.PriceKobo,
				TotalKobo:     lineTotal,
			})
		}

		order := &models.Order{
			ClientID:        client.ID,
			ClientName:      client.FullName,
			ClientPhone:     client.Phone,
			DeliveryAddress: strings.TrimSpace(input.DeliveryAddress),
			DeliveryPhone:   input.DeliveryPhone,
			Notes:           input.Notes,
			TotalKobo:       total,
			Status:          enums.OrderStatusPending,
			PaymentStatus:   enums.PaymentStatusPending,
			Items:           items,
		}
		created, err := s.repo.WithTx(tx).Create(ctx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert order")
		}
		orderID = created.ID

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   created.ID,
			Actor:         buildActor(actor),
			Data: OrderCreatedEvent{
				OrderID:    created.ID,
				ClientID:   created.ClientID,
				ClientName: created.ClientName,
				TotalKobo:  created.TotalKobo,
				VendorIDs:  DistinctVendorIDs(created.Items),
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	created, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return NewOrderDTO(created), nil
}

// UpdateStatus applies one workflow transition. The write is a
// compare-and-set on the status read here; a concurrent transition makes
// the guard fail and the caller sees STATE_CONFLICT.
func (s *service) UpdateStatus(ctx context.Context, actor Actor, orderID uuid.UUID, target enums.OrderStatus) (*OrderDTO, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeTransition(ctx, actor, order, target); err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, target))
	}

	current := order.Status
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		rows, err := txRepo.UpdateStatus(ctx, order.ID, current, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update order status")
		}
		if rows == 0 {
			latest, err := txRepo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order moved to %s concurrently", latest.Status))
		}

		// A cancellation before payment still holds the reservation;
		// give the stock back in the same transaction.
		if target == enums.OrderStatusCancelled && holdsReservation(current) {
			lines := make([]inventory.Line, 0, len(order.Items))
			for _, item := range order.Items {
				lines = append(lines, inventory.Line{PartID: item.PartID, Qty: item.Quantity})
			}
			if err := s.ledger.Release(ctx, tx, lines); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         buildActor(actor),
			Data: OrderStatusChangedEvent{
				OrderID:        order.ID,
				ClientID:       order.ClientID,
				PreviousStatus: current,
				NewStatus:      target,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	updated, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return NewOrderDTO(updated), nil
}

// Get loads one order under the caller's visibility rules.
func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, order); err != nil {
		return nil, err
	}
	return NewOrderDTO(order), nil
}

// List pages orders scoped by the caller's role.
func (s *service) List(ctx context.Context, actor Actor, input ListOrdersInput) (*OrderListResult, error) {
	query := orderListQuery{Pagination: input.Pagination, Status: input.Status}
	switch actor.Role {
	case enums.UserRoleClient:
		query.ClientID = &actor.UserID
	case enums.UserRoleVendor:
		query.VendorID = &actor.UserID
	case enums.UserRoleDispatcher:
		query.DispatcherID = &actor.UserID
	case enums.UserRoleAdmin:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unsupported role")
	}

	result, err := s.repo.List(ctx, query)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return result, nil
}

// CancelStale cancels a stale unpaid pending order on behalf of the TTL
// job. The pending/unpaid precondition lives inside the update guard, so
// a payment verified after the sweep's read leaves the order untouched.
func (s *service) CancelStale(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).CancelStalePending(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: cancel stale order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer stale")
		}

		// The guard proved the order was still pending, so the
		// reservation is held and goes back in the same transaction.
		lines := make([]inventory.Line, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, inventory.Line{PartID: item.PartID, Qty: item.Quantity})
		}
		if err := s.ledger.Release(ctx, tx, lines); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: OrderStatusChangedEvent{
				OrderID:        order.ID,
				ClientID:       order.ClientID,
				PreviousStatus: enums.OrderStatusPending,
				NewStatus:      enums.OrderStatusCancelled,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stale order")
	}
	return nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// authorizeTransition enforces who may request each target status.
func (s *service) authorizeTransition(ctx context.Context, actor Actor, order *models.Order, target enums.OrderStatus) error {
	if actor.Role == enums.UserRoleAdmin {
		if target == enums.OrderStatusPaid {
			return pkgerrors.New(pkgerrors.CodeForbidden, "paid is set by payment verification")
		}
		if target == enums.OrderStatusAssigned {
			return pkgerrors.New(pkgerrors.CodeForbidden, "assignment goes through dispatch")
		}
		return nil
	}

	switch target {
	case enums.OrderStatusConfirmed:
		return s.requireVendorLine(ctx, actor, order)
	case enums.OrderStatusPaid:
		return pkgerrors.New(pkgerrors.CodeForbidden, "paid is set by payment verification")
	case enums.OrderStatusAssigned:
		return pkgerrors.New(pkgerrors.CodeForbidden, "assignment goes through dispatch")
	case enums.OrderStatusPickedUp, enums.OrderStatusInTransit, enums.OrderStatusDelivered:
		if actor.Role != enums.UserRoleDispatcher {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned dispatcher advances delivery")
		}
		if order.DispatcherID == nil || *order.DispatcherID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is assigned to another dispatcher")
		}
		return nil
	case enums.OrderStatusCancelled:
		switch actor.Role {
		case enums.UserRoleClient:
			if order.ClientID != actor.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another client")
			}
			return nil
		case enums.UserRoleVendor:
			return s.requireVendorLine(ctx, actor, order)
		default:
			return pkgerrors.New(pkgerrors.CodeForbidden, "role cannot cancel orders")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "unsupported transition")
	}
}

func (s *service) authorizeView(ctx context.Context, actor Actor, order *models.Order) error {
	switch actor.Role {
	case enums.UserRoleAdmin:
		return nil
	case enums.UserRoleClient:
		if order.ClientID == actor.UserID {
			return nil
		}
	case enums.UserRoleVendor:
		ok, err := s.repo.VendorHasLine(ctx, order.ID, actor.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check vendor lines")
		}
		if ok {
			return nil
		}
	case enums.UserRoleDispatcher:
		if order.DispatcherID != nil && *order.DispatcherID == actor.UserID {
			return nil
		}
		// Claimable orders are visible so dispatchers can pick them up.
		if order.Status == enums.OrderStatusPaid && order.DispatcherID == nil {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to this user")
}

func (s *service) requireVendorLine(ctx context.Context, actor Actor, order *models.Order) error {
	if actor.Role != enums.UserRoleVendor {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only a vendor on the order may do this")
	}
	ok, err := s.repo.VendorHasLine(ctx, order.ID, actor.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check vendor lines")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "vendor has no line in this order")
	}
	return nil
}

// holdsReservation reports whether stock is still reserved at the given
// status. Once paid, the goods are sold and cancellation no longer
// restocks automatically.
func holdsReservation(status enums.OrderStatus) bool {
	return status == enums.OrderStatusPending || status == enums.OrderStatusConfirmed
}

func buildActor(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}
