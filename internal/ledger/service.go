package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/IronblockT/bodega-galatica/internal/kafka"
)

// ErrTerminalConflict is returned when a transition requests the opposite of
// an already-applied terminal state. The first terminal transition wins.
var ErrTerminalConflict = errors.New("order already in opposite terminal state")

// Reservations is the slice of the reservation engine the ledger drives.
// Commit and Release are idempotent per order.
type Reservations interface {
	Commit(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
}

// EventSink publishes order lifecycle events. *kafka.Producer satisfies it.
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service owns the order state machine. Orders are mutated only through its
// transition methods; each transition into awaiting_payment or a terminal
// state pairs exactly one committing or compensating reservation call.
type Service struct {
	Repo         *Repo
	Reservations Reservations
	Events       EventSink // nil-safe: publishing skipped if nil
	ServiceName  string
}

func (s *Service) CreateDraft(ctx context.Context, userID, currency string, items []NewItem) (Order, error) {
	o, err := s.Repo.CreateOrderTx(ctx, userID, currency, items)
	if err != nil {
		return Order{}, fmt.Errorf("create draft order: %w", err)
	}
	s.publish(EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID: o.ID, UserID: o.UserID, TotalCents: o.TotalCents, Currency: o.Currency,
	})
	return o, nil
}

func (s *Service) MarkReserved(ctx context.Context, orderID string) error {
	ok, err := s.Repo.TransitionStatus(ctx, orderID, StatusDraft, StatusReserved, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s: invalid transition to reserved", orderID)
	}
	s.publish(EventOrderReserved, orderID, OrderStatusPayload{OrderID: orderID, Status: StatusReserved})
	return nil
}

func (s *Service) MarkAwaitingPayment(ctx context.Context, orderID string) error {
	ok, err := s.Repo.TransitionStatus(ctx, orderID, StatusReserved, StatusAwaitingPayment, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s: invalid transition to awaiting_payment", orderID)
	}
	s.publish(EventOrderAwaitingPayment, orderID, OrderStatusPayload{OrderID: orderID, Status: StatusAwaitingPayment})
	return nil
}

// MarkPaid applies the approved-payment transition. Re-applying it to an
// already-paid order is a no-op; applying it to a cancelled order is a
// terminal conflict.
func (s *Service) MarkPaid(ctx context.Context, orderID string) error {
	ok, err := s.Repo.TransitionStatus(ctx, orderID, StatusAwaitingPayment, StatusPaid, "")
	if err != nil {
		return err
	}
	if !ok {
		cur, err := s.Repo.GetOrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		switch cur {
		case StatusPaid:
			// Replayed delivery. Commit is idempotent, so re-running it
			// here recovers a hold left active by an earlier commit
			// failure.
			if err := s.Reservations.Commit(ctx, orderID); err != nil {
				return fmt.Errorf("commit reservation for order %s: %w", orderID, err)
			}
			return nil
		case StatusCancelled:
			return ErrTerminalConflict
		default:
			return fmt.Errorf("order %s: cannot pay from status %s", orderID, cur)
		}
	}
	if err := s.Reservations.Commit(ctx, orderID); err != nil {
		// Status is already paid; surface the commit failure for retry by
		// the next delivery rather than unwinding the payment.
		return fmt.Errorf("commit reservation for order %s: %w", orderID, err)
	}
	s.publish(EventOrderPaid, orderID, OrderStatusPayload{OrderID: orderID, Status: StatusPaid})
	return nil
}

// Cancel force-cancels from any non-terminal state and always pairs the
// transition with a reservation release. Cancelling an already-cancelled
// order is a no-op; cancelling a paid order is a terminal conflict.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) error {
	cur, err := s.Repo.GetOrderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	switch cur {
	case StatusCancelled:
		return nil
	case StatusPaid:
		return ErrTerminalConflict
	}
	ok, err := s.Repo.TransitionStatus(ctx, orderID, cur, StatusCancelled, reason)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race; whoever won owns the compensation.
		cur, err = s.Repo.GetOrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if cur == StatusCancelled {
			return nil
		}
		return ErrTerminalConflict
	}
	if err := s.Reservations.Release(ctx, orderID); err != nil {
		return fmt.Errorf("release reservation for order %s: %w", orderID, err)
	}
	s.publish(EventOrderCancelled, orderID, OrderStatusPayload{OrderID: orderID, Status: StatusCancelled, Reason: reason})
	return nil
}

func (s *Service) OrderExists(ctx context.Context, orderID string) (bool, error) {
	return s.Repo.OrderExists(ctx, orderID)
}

func (s *Service) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*Payment, error) {
	return s.Repo.GetPaymentByProviderID(ctx, provider, providerPaymentID)
}

func (s *Service) UpsertPayment(ctx context.Context, p Payment) error {
	return s.Repo.UpsertPayment(ctx, p)
}

func (s *Service) RecordPendingPayment(ctx context.Context, orderID, provider, preferenceID string, amountCents int64, currency string, raw []byte) error {
	return s.Repo.CreatePendingPayment(ctx, orderID, provider, preferenceID, amountCents, currency, raw)
}

func (s *Service) publish(eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Events.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	slog.Debug("order event published", "type", eventType, "order_id", orderID)
}
