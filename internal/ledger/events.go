package ledger

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderReserved        = "OrderReserved"
	EventOrderAwaitingPayment = "OrderAwaitingPayment"
	EventOrderPaid            = "OrderPaid"
	EventOrderCancelled       = "OrderCancelled"
)

const TopicOrderEvents = "order.events"

// Envelope is the wire format for order lifecycle events.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderStatusPayload struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
}

// PartitionKey keeps all events of one order on the same partition so
// consumers observe them in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
