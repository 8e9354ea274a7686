package payments

import (
	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/enums"
)

// InitializeResponse carries the checkout handles for a new payment.
type InitializeResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	AmountKobo       int64  `json:"amount_kobo"`
}

// VerifyResponse reports the reconciliation outcome for a reference.
// GatewayStatus is the raw gateway verdict; Settled reports whether the
// order is paid after this call (idempotent re-verifies included).
type VerifyResponse struct {
	Reference     string              `json:"reference"`
	OrderID       uuid.UUID           `json:"order_id"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	GatewayStatus string              `json:"gateway_status"`
	AmountKobo    int64               `json:"amount_kobo"`
	Settled       bool                `json:"settled"`
}

// PaymentSucceededEvent is the payload of a payment.succeeded outbox
// event, emitted exactly once per order.
type PaymentSucceededEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	ClientID   uuid.UUID `json:"client_id"`
	Reference  string    `json:"reference"`
	AmountKobo int64     `json:"amount_kobo"`
}
