package orders

import (
	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/enums"
)

// OrderCreatedEvent is the payload of an order.created outbox event.
// VendorIDs lists each distinct vendor with a line in the order so the
// consumer can fan out one notification per vendor.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	ClientID   uuid.UUID   `json:"client_id"`
	ClientName string      `json:"client_name"`
	TotalKobo  int64       `json:"total_kobo"`
	VendorIDs  []uuid.UUID `json:"vendor_ids"`
}

// OrderStatusChangedEvent is the payload of an order.status_changed event.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	ClientID       uuid.UUID         `json:"client_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	NewStatus      enums.OrderStatus `json:"new_status"`
}
