package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/enums"
)

// Order represents a client order over one or more parts. Status,
// payment fields, and dispatcher fields only move through conditional
// updates so concurrent writers cannot double-apply a transition.
// Orders are never deleted; terminal states are retained for audit.
type Order struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey"`
	ClientID         uuid.UUID           `gorm:"column:client_id;type:uuid;not null;index"`
	ClientName       string              `gorm:"column:client_name;not null"`
	ClientPhone      *string             `gorm:"column:client_phone"`
	DeliveryAddress  string              `gorm:"column:delivery_address;not null"`
	DeliveryPhone    *string             `gorm:"column:delivery_phone"`
	Notes            *string             `gorm:"column:notes"`
	TotalKobo        int64               `gorm:"column:total_kobo;not null"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentReference *string             `gorm:"column:payment_reference;uniqueIndex"`
	DispatcherID     *uuid.UUID          `gorm:"column:dispatcher_id;type:uuid;index"`
	DispatcherName   *string             `gorm:"column:dispatcher_name"`
	Items            []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
