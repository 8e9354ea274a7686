package models

import (
	"time"

	"github.com/google/uuid"
)

// Part represents a vendor's spare-part listing. Quantity is the sole
// source of truth for availability and is only ever mutated through the
// inventory ledger under a row lock or a conditional update.
type Part struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	VendorID    uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index;uniqueIndex:ux_parts_vendor_sku"`
	VendorName  string    `gorm:"column:vendor_name;not null"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	Category    string    `gorm:"column:category;not null"`
	SKU         string    `gorm:"column:sku;not null;uniqueIndex:ux_parts_vendor_sku"`
	Brand       *string   `gorm:"column:brand"`
	ImageURL    *string   `gorm:"column:image_url"`
	PriceKobo   int64     `gorm:"column:price_kobo;not null"`
	Quantity    int       `gorm:"column:quantity;not null;default:0"`
	IsAvailable bool      `gorm:"column:is_available;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
