package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/db/models"
	"github.com/sparehub/sparehub-backend/pkg/enums"
	"github.com/sparehub/sparehub-backend/pkg/pagination"
)

// Actor identifies the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
	Name   string
}

// OrderItemInput is one requested line of a new order.
type OrderItemInput struct {
	PartID uuid.UUID `json:"part_id" validate:"required"`
	Qty    int       `json:"qty" validate:"required,min=1"`
}

// CreateOrderInput holds the validated payload to place an order.
type CreateOrderInput struct {
	DeliveryAddress string           `json:"delivery_address" validate:"required"`
	DeliveryPhone   *string          `json:"delivery_phone,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	Items           []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// ListOrdersInput carries pagination and the optional status filter.
type ListOrdersInput struct {
	Pagination pagination.Params
	Status     *enums.OrderStatus
}

// OrderLineItemDTO is the transport shape of a snapshotted line.
type OrderLineItemDTO struct {
	ID            uuid.UUID `json:"id"`
	PartID        uuid.UUID `json:"part_id"`
	PartName      string    `json:"part_name"`
	PartSKU       string    `json:"part_sku"`
	VendorID      uuid.UUID `json:"vendor_id"`
	VendorName    string    `json:"vendor_name"`
	Quantity      int       `json:"quantity"`
	UnitPriceKobo int64     `json:"unit_price_kobo"`
	TotalKobo     int64     `json:"total_kobo"`
}

// OrderDTO is the full order payload returned to clients.
type OrderDTO struct {
	ID               uuid.UUID           `json:"id"`
	ClientID         uuid.UUID           `json:"client_id"`
	ClientName       string              `json:"client_name"`
	DeliveryAddress  string              `json:"delivery_address"`
	DeliveryPhone    *string             `json:"delivery_phone,omitempty"`
	Notes            *string             `json:"notes,omitempty"`
	TotalKobo        int64               `json:"total_kobo"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	DispatcherID     *uuid.UUID          `json:"dispatcher_id,omitempty"`
	DispatcherName   *string             `json:"dispatcher_name,omitempty"`
	Items            []OrderLineItemDTO  `json:"items"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// OrderListResult pairs a page of orders with the next cursor.
type OrderListResult struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// NewOrderDTO builds a DTO from the persisted model.
func NewOrderDTO(order *models.Order) *OrderDTO {
	items := make([]OrderLineItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderLineItemDTO{
			ID:            item.ID,
			PartID:        item.PartID,
			PartName:      item.PartName,
			PartSKU:       item.PartSKU,
			VendorID:      item.VendorID,
			VendorName:    item.VendorName,
			Quantity:      item.Quantity,
			UnitPriceKobo: item.UnitPriceKobo,
			TotalKobo:     item.TotalKobo,
		})
	}
	return &OrderDTO{
		ID:               order.ID,
		ClientID:         order.ClientID,
		ClientName:       order.ClientName,
		DeliveryAddress:  order.DeliveryAddress,
		DeliveryPhone:    order.DeliveryPhone,
		Notes:            order.Notes,
		TotalKobo:        order.TotalKobo,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		PaymentReference: order.PaymentReference,
		DispatcherID:     order.DispatcherID,
		DispatcherName:   order.DispatcherName,
		Items:            items,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}
