package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
)

// OrderAssignedEvent is the payload of an order.assigned outbox event.
type OrderAssignedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	ClientID       uuid.UUID `json:"client_id"`
	DispatcherID   uuid.UUID `json:"dispatcher_id"`
	DispatcherName string    `json:"dispatcher_name"`
}

// Service exposes dispatcher claim and admin reassignment.
type Service interface {
	Assign(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*orders.OrderDTO, error)
	Reassign(ctx context.Context, actor orders.Actor, orderID, dispatcherID uuid.UUID) (*orders.OrderDTO, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ServiceParams bundles the dispatch service dependencies.
type ServiceParams struct {
	OrdersRepo *orders.Repository
	DB         txRunner
	Outbox     outboxPublisher
	UserRepo   userLoader
}

type service struct {
	ordersRepo *orders.Repository
	db         txRunner
	outbox     outboxPublisher
	users      userLoader
}

// NewService constructs the dispatch service.
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
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{
		ordersRepo: params.OrdersRepo,
		db:         params.DB,
		outbox:     params.Outbox,
		users:      params.UserRepo,
	}, nil
}

// Assign lets a dispatcher claim a paid, unassigned order. The claim is
// a single conditional update, so of any number of concurrent claimers
// exactly one wins; the rest re-read and get a typed conflict.
func (s *service) Assign(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*orders.OrderDTO, error) {
	if actor.Role != enums.UserRoleDispatcher {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only dispatchers claim orders")
	}
	dispatcher, err := s.loadDispatcher(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.claim(ctx, actor, orderID, dispatcher, false)
}

// Reassign is the admin override: the unassigned precondition is waived
// so a stuck order can move to another dispatcher.
func (s *service) Reassign(ctx context.Context, actor orders.Actor, orderID, dispatcherID uuid.UUID) (*orders.OrderDTO, error) {
	if actor.Role != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins reassign orders")
	}
	dispatcher, err := s.loadDispatcher(ctx, dispatcherID)
	if err != nil {
		return nil, err
	}
	return s.claim(ctx, actor, orderID, dispatcher, true)
}

func (s *service) claim(ctx context.Context, actor orders.Actor, orderID uuid.UUID, dispatcher *models.User, override bool) (*orders.OrderDTO, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.ordersRepo.WithTx(tx)

		var (
			rows int64
			err  error
		)
		if override {
			rows, err = txRepo.ReassignDispatcher(ctx, orderID, dispatcher.ID, dispatcher.FullName)
		} else {
			rows, err = txRepo.ClaimForDispatch(ctx, orderID, dispatcher.ID, dispatcher.FullName)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: claim order")
		}
		if rows == 0 {
			latest, err := txRepo.FindByID(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			if !override && latest.DispatcherID != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already assigned")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order is %s, not ready for dispatch", latest.Status))
		}

		latest, err := txRepo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderAssigned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: OrderAssignedEvent{
				OrderID:        orderID,
				ClientID:       latest.ClientID,
				DispatcherID:   dispatcher.ID,
				DispatcherName: dispatcher.FullName,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign order")
	}

	assigned, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return orders.NewOrderDTO(assigned), nil
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

func (s *service) loadDispatcher(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispatcher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispatcher")
	}
	if user.Role != enums.UserRoleDispatcher {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user is not a dispatcher")
	}
	if !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "dispatcher account is deactivated")
	}
	return user, nil
}
