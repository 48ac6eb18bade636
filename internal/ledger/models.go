package ledger

import (
	"encoding/json"
	"time"
)

type Order struct {
	ID            string
	UserID        string
	Status        Status
	SubtotalCents int64
	ShippingCents int64
	DiscountCents int64
	TotalCents    int64
	Currency      string
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemSnapshot freezes the catalog view of a SKU at checkout time so that
// historical orders are unaffected by later catalog changes.
type ItemSnapshot struct {
	Title          string `json:"title"`
	CardUID        string `json:"card_uid,omitempty"`
	Finish         string `json:"finish,omitempty"`
	Condition      string `json:"condition,omitempty"`
	PromoType      string `json:"promo_type,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type OrderItem struct {
	ID             string
	OrderID        string
	SKU            string
	Qty            int
	UnitPriceCents int64
	LineTotalCents int64
	Snapshot       ItemSnapshot
}

// NewItem is the input for creating a draft order line.
type NewItem struct {
	SKU            string
	Qty            int
	UnitPriceCents int64
	Snapshot       ItemSnapshot
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is one provider payment attempt for an order. The pair
// (Provider, ProviderPaymentID) is unique and serves as the idempotency key
// for webhook processing. Rows are never deleted.
type Payment struct {
	ID                   string
	OrderID              string
	Provider             string
	ProviderPreferenceID string
	ProviderPaymentID    string
	ProviderStatus       string
	Status               PaymentStatus
	ProviderUpdatedAt    time.Time
	AmountCents          int64
	Currency             string
	Raw                  json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// LocalPaymentStatus maps a raw provider status onto the local enum.
func LocalPaymentStatus(providerStatus string) PaymentStatus {
	switch providerStatus {
	case "approved":
		return PaymentPaid
	case "rejected", "cancelled":
		return PaymentFailed
	default:
		return PaymentPending
	}
}
