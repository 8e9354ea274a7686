package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem captures the snapshot of each part within an order.
// Name, SKU, vendor, and unit price are copied at reservation time so
// later part edits do not rewrite order history.
type OrderLineItem struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	PartID        uuid.UUID `gorm:"column:part_id;type:uuid;not null"`
	PartName      string    `gorm:"column:part_name;not null"`
	PartSKU       string    `gorm:"column:part_sku;not null"`
	VendorID      uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	VendorName    string    `gorm:"column:vendor_name;not null"`
	Quantity      int       `gorm:"column:quantity;not null"`
	UnitPriceKobo int64     `gorm:"column:unit_price_kobo;not null"`
	TotalKobo     int64     `gorm:"column:total_kobo;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
