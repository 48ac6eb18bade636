// Package projector consumes order lifecycle events and maintains the Redis
// order-status cache that backs the read path.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/IronblockT/bodega-galatica/internal/kafka"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	ServiceName string
}

// HandleOrderEvent is installed as the consumer handler for order.events.
// Events are deduplicated by event id so redeliveries are harmless.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env ledger.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	var orderID string
	var status ledger.Status
	var reason string
	switch env.EventType {
	case ledger.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[ledger.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = p.OrderID, ledger.StatusDraft
	case ledger.EventOrderReserved, ledger.EventOrderAwaitingPayment, ledger.EventOrderPaid, ledger.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[ledger.OrderStatusPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status, reason = p.OrderID, p.Status, p.Reason
	default:
		return nil
	}

	body := map[string]any{"order_id": orderID, "status": status}
	if reason != "" {
		body["reason"] = reason
	}
	b, _ := json.Marshal(body)
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		return err
	}
	slog.Debug("order status projected", "order_id", orderID, "status", status)
	return nil
}
