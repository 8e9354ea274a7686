package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/internal/dispatch"
	"github.com/sparehub/sparehub-backend/internal/orders"
	"github.com/sparehub/sparehub-backend/internal/payments"
	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	"github.com/sparehub/sparehub-backend/pkg/logger"
	"github.com/sparehub/sparehub-backend/pkg/outbox"
	"github.com/sparehub/sparehub-backend/pkg/outbox/idempotency"
)

const orderNotificationConsumer = "order-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and materializes them as in-app notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !handledEvent(eventType) {
		c.logg.Info(logCtx, "skipping unhandled event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handleEvent(ctx, eventType, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func handledEvent(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderCreated, enums.EventOrderStatusChanged,
		enums.EventOrderAssigned, enums.EventPaymentSucceeded:
		return true
	default:
		return false
	}
}

func (c *Consumer) handleEvent(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage, logCtx context.Context) error {
	switch eventType {
	case enums.EventOrderCreated:
		return c.handleOrderCreated(ctx, data, logCtx)
	case enums.EventOrderStatusChanged:
		return c.handleStatusChanged(ctx, data, logCtx)
	case enums.EventOrderAssigned:
		return c.handleOrderAssigned(ctx, data, logCtx)
	case enums.EventPaymentSucceeded:
		return c.handlePaymentSucceeded(ctx, data, logCtx)
	default:
		return nil
	}
}

// handleOrderCreated fans one order out to every vendor with a line on it.
func (c *Consumer) handleOrderCreated(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload orders.OrderCreatedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.created payload: %w", err)
	}
	if payload.OrderID == uuid.Nil {
		return fmt.Errorf("order id missing")
	}

	link := orderLink(payload.OrderID)
	for _, vendorID := range payload.VendorIDs {
		if vendorID == uuid.Nil {
			continue
		}
		notification := &models.Notification{
			UserID:  vendorID,
			Type:    enums.NotificationTypeOrder,
			Title:   "New order received",
			Message: fmt.Sprintf("%s placed an order totalling %s.", payload.ClientName, formatNaira(payload.TotalKobo)),
			Link:    stringPtr(link),
		}
		if err := c.repo.Create(ctx, notification); err != nil {
			return err
		}
	}
	c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "vendors notified of new order")
	return nil
}

func (c *Consumer) handleStatusChanged(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload orders.OrderStatusChangedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.status_changed payload: %w", err)
	}
	if payload.ClientID == uuid.Nil {
		return fmt.Errorf("client id missing")
	}

	title := "Order update"
	message := fmt.Sprintf("Your order is now %s.", payload.NewStatus)
	if payload.NewStatus == enums.OrderStatusCancelled {
		title = "Order cancelled"
		message = "Your order has been cancelled."
	}
	notification := &models.Notification{
		UserID:  payload.ClientID,
		Type:    enums.NotificationTypeOrder,
		Title:   title,
		Message: message,
		Link:    stringPtr(orderLink(payload.OrderID)),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "client notified of status change")
	return nil
}

func (c *Consumer) handleOrderAssigned(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload dispatch.OrderAssignedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.assigned payload: %w", err)
	}
	if payload.ClientID == uuid.Nil {
		return fmt.Errorf("client id missing")
	}

	notification := &models.Notification{
		UserID:  payload.ClientID,
		Type:    enums.NotificationTypeOrder,
		Title:   "Dispatcher assigned",
		Message: fmt.Sprintf("%s will deliver your order.", payload.DispatcherName),
		Link:    stringPtr(orderLink(payload.OrderID)),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "client notified of dispatcher assignment")
	return nil
}

func (c *Consumer) handlePaymentSucceeded(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payments.PaymentSucceededEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse payment.succeeded payload: %w", err)
	}
	if payload.ClientID == uuid.Nil {
		return fmt.Errorf("client id missing")
	}

	notification := &models.Notification{
		UserID:  payload.ClientID,
		Type:    enums.NotificationTypePayment,
		Title:   "Payment received",
		Message: fmt.Sprintf("We received your payment of %s.", formatNaira(payload.AmountKobo)),
		Link:    stringPtr(orderLink(payload.OrderID)),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(c.logg.WithOrderID(logCtx, payload.OrderID.String()), "client notified of payment")
	return nil
}

func orderLink(orderID uuid.UUID) string {
	return fmt.Sprintf("/orders/%s", orderID)
}

func formatNaira(kobo int64) string {
	return fmt.Sprintf("NGN %d.%02d", kobo/100, kobo%100)
}

func stringPtr(value string) *string {
	return &value
}
