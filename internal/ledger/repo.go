package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

// CreateOrderTx inserts a draft order and its items in one transaction.
// Line totals and the order totals are computed here from the unit prices
// the caller resolved from the catalog; client-supplied prices are never
// trusted.
func (r *Repo) CreateOrderTx(ctx context.Context, userID, currency string, items []NewItem) (Order, error) {
	var o Order
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return o, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var subtotal int64
	for _, it := range items {
		subtotal += it.UnitPriceCents * int64(it.Qty)
	}

	o = Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        StatusDraft,
		SubtotalCents: subtotal,
		TotalCents:    subtotal, // shipping and discounts are zero at creation
		Currency:      currency,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, subtotal_cents, shipping_cents, discount_cents, total_cents, currency)
		VALUES ($1,$2,$3,$4,0,0,$5,$6)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.Status, o.SubtotalCents, o.TotalCents, o.Currency,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	for _, it := range items {
		snap, err := json.Marshal(it.Snapshot)
		if err != nil {
			return Order{}, fmt.Errorf("marshal snapshot for %s: %w", it.SKU, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, sku, qty, unit_price_cents, line_total_cents, snapshot)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.NewString(), o.ID, it.SKU, it.Qty, it.UnitPriceCents, it.UnitPriceCents*int64(it.Qty), snap,
		)
		if err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) OrderExists(ctx context.Context, orderID string) (bool, error) {
	var n int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE id=$1`, orderID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionStatus flips the order status only when the current status still
// matches from; the conditional update is the concurrency guard, so two
// racing callers cannot both apply the same transition.
func (r *Repo) TransitionStatus(ctx context.Context, orderID string, from, to Status, reason string) (bool, error) {
	if !CanTransition(from, to) {
		return false, nil
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, cancel_reason=$4, updated_at=now()
		WHERE id=$1 AND status=$2`,
		orderID, from, to, reason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*Payment, error) {
	var p Payment
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, provider, COALESCE(provider_preference_id,''), provider_payment_id,
		       provider_status, status, provider_updated_at, amount_cents, currency, raw, created_at, updated_at
		FROM payments WHERE provider=$1 AND provider_payment_id=$2`,
		provider, providerPaymentID,
	).Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderPreferenceID, &p.ProviderPaymentID,
		&p.ProviderStatus, &p.Status, &p.ProviderUpdatedAt, &p.AmountCents, &p.Currency,
		&p.Raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPayment inserts or updates the payment row keyed by the unique
// (provider, provider_payment_id) pair in a single statement, so concurrent
// deliveries of the same event cannot create duplicate rows or race an
// insert-then-update pair.
func (r *Repo) UpsertPayment(ctx context.Context, p Payment) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, provider, provider_payment_id, provider_status, status,
		                     provider_updated_at, amount_cents, currency, raw)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (provider, provider_payment_id) DO UPDATE SET
			provider_status     = EXCLUDED.provider_status,
			status              = EXCLUDED.status,
			provider_updated_at = EXCLUDED.provider_updated_at,
			amount_cents        = EXCLUDED.amount_cents,
			raw                 = EXCLUDED.raw,
			updated_at          = now()`,
		uuid.NewString(), p.OrderID, p.Provider, p.ProviderPaymentID, p.ProviderStatus, p.Status,
		p.ProviderUpdatedAt, p.AmountCents, p.Currency, p.Raw)
	return err
}

// CreatePendingPayment records the payment row issued with a checkout
// preference, before any provider payment id exists.
func (r *Repo) CreatePendingPayment(ctx context.Context, orderID, provider, preferenceID string, amountCents int64, currency string, raw json.RawMessage) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, provider, provider_preference_id, provider_status, status, amount_cents, currency, raw)
		VALUES ($1,$2,$3,$4,'pending',$5,$6,$7,$8)`,
		uuid.NewString(), orderID, provider, preferenceID, PaymentPending, amountCents, currency, raw)
	return err
}
