package reservation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Item struct {
	SKU string
	Qty int
}

type ShortSKU struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError reports every SKU that could not be covered; when it
// is returned no partial reservation was left behind.
type InsufficientStockError struct {
	Short []ShortSKU
}

func (e *InsufficientStockError) Error() string {
	skus := make([]string, len(e.Short))
	for i, s := range e.Short {
		skus[i] = s.SKU
	}
	return fmt.Sprintf("insufficient stock for %s", strings.Join(skus, ", "))
}

// Engine converts available inventory into time-bounded holds. Inventory
// counters are mutated only here: stock is decremented when a hold is taken
// and restored when the hold is released or expires; committing a hold
// records the sale without touching stock again.
type Engine struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

// Reserve atomically holds every requested quantity for the order, or none.
// Holds already expired for the touched SKUs are returned to stock before
// availability is computed, so abandoned checkouts cannot block a sale.
// Repeated calls for an order with an active hold return the existing expiry.
func (e *Engine) Reserve(ctx context.Context, orderID string, items []Item) (time.Time, error) {
	// Lock rows in a stable order so concurrent reservations cannot deadlock.
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })

	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing time.Time
	err = tx.QueryRow(ctx,
		`SELECT expires_at FROM reservations WHERE order_id=$1 AND status='active' LIMIT 1`,
		orderID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != pgx.ErrNoRows {
		return time.Time{}, err
	}

	expiresAt := time.Now().UTC().Add(e.TTL)
	var short []ShortSKU

	for _, it := range sorted {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM card_inventory WHERE sku=$1 FOR UPDATE`, it.SKU).Scan(&stock)
		if err == pgx.ErrNoRows {
			short = append(short, ShortSKU{SKU: it.SKU, Requested: it.Qty, Available: 0})
			continue
		}
		if err != nil {
			return time.Time{}, err
		}

		// Lapsed holds on this SKU are implicitly released before the
		// availability check.
		var restored int
		err = tx.QueryRow(ctx, `
			WITH lapsed AS (
				UPDATE reservations SET status='expired'
				WHERE sku=$1 AND status='active' AND expires_at <= now()
				RETURNING qty
			)
			SELECT COALESCE(SUM(qty),0) FROM lapsed`, it.SKU).Scan(&restored)
		if err != nil {
			return time.Time{}, err
		}
		available := stock + restored

		if available < it.Qty {
			short = append(short, ShortSKU{SKU: it.SKU, Requested: it.Qty, Available: available})
			continue
		}

		if _, err := tx.Exec(ctx,
			`UPDATE card_inventory SET stock=$2, updated_at=now() WHERE sku=$1`,
			it.SKU, available-it.Qty); err != nil {
			return time.Time{}, err
		}
		// A lapsed row from an earlier hold on the same (order, sku) is
		// revived rather than ignored; DO NOTHING here would leak the stock
		// decremented above with no active row to release it.
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, sku, qty, status, expires_at)
			VALUES ($1,$2,$3,'active',$4)
			ON CONFLICT (order_id, sku) DO UPDATE SET
				qty = EXCLUDED.qty, status = 'active', expires_at = EXCLUDED.expires_at`,
			orderID, it.SKU, it.Qty, expiresAt); err != nil {
			return time.Time{}, err
		}
	}

	if len(short) > 0 {
		// rollback via defer: no partial hold survives
		return time.Time{}, &InsufficientStockError{Short: short}
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Commit turns the order's active hold into a permanent deduction. Stock was
// already taken at reserve time, so only the sold counters move. Committing
// an already-committed or already-released order is a no-op.
func (e *Engine) Commit(ctx context.Context, orderID string) error {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	skus, err := skuList(ctx, tx,
		`SELECT DISTINCT sku FROM reservations WHERE order_id=$1 AND status='active' ORDER BY sku`, orderID)
	if err != nil {
		return err
	}
	if len(skus) == 0 {
		return tx.Commit(ctx)
	}
	if err := lockInventory(ctx, tx, skus); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status='committed'
		WHERE order_id=$1 AND status='active' AND sku = ANY($2)
		RETURNING sku, qty`, orderID, skus)
	if err != nil {
		return err
	}
	committed, err := collect(rows)
	if err != nil {
		return err
	}
	for _, c := range committed {
		if _, err := tx.Exec(ctx,
			`UPDATE card_inventory SET sold = sold + $2, updated_at=now() WHERE sku=$1`,
			c.SKU, c.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Release returns the order's active hold to available stock. Releasing an
// already-released or committed order is a no-op.
func (e *Engine) Release(ctx context.Context, orderID string) error {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	skus, err := skuList(ctx, tx,
		`SELECT DISTINCT sku FROM reservations WHERE order_id=$1 AND status='active' ORDER BY sku`, orderID)
	if err != nil {
		return err
	}
	if len(skus) == 0 {
		return tx.Commit(ctx)
	}
	if err := lockInventory(ctx, tx, skus); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status='released'
		WHERE order_id=$1 AND status='active' AND sku = ANY($2)
		RETURNING sku, qty`, orderID, skus)
	if err != nil {
		return err
	}
	released, err := collect(rows)
	if err != nil {
		return err
	}
	for _, r := range released {
		if _, err := tx.Exec(ctx,
			`UPDATE card_inventory SET stock = stock + $2, updated_at=now() WHERE sku=$1`,
			r.SKU, r.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReleaseExpired sweeps every hold past its TTL back into stock and returns
// how many rows were expired. Holds lapsing between the SKU scan and the
// update are picked up by the next sweep.
func (e *Engine) ReleaseExpired(ctx context.Context) (int, error) {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	skus, err := skuList(ctx, tx,
		`SELECT DISTINCT sku FROM reservations WHERE status='active' AND expires_at <= now() ORDER BY sku`)
	if err != nil {
		return 0, err
	}
	if len(skus) == 0 {
		return 0, tx.Commit(ctx)
	}
	if err := lockInventory(ctx, tx, skus); err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status='expired'
		WHERE status='active' AND expires_at <= now() AND sku = ANY($1)
		RETURNING sku, qty`, skus)
	if err != nil {
		return 0, err
	}
	expired, err := collect(rows)
	if err != nil {
		return 0, err
	}
	for _, x := range expired {
		if _, err := tx.Exec(ctx,
			`UPDATE card_inventory SET stock = stock + $2, updated_at=now() WHERE sku=$1`,
			x.SKU, x.Qty); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// lockInventory takes the card_inventory row locks in ascending SKU order.
// Every engine operation acquires inventory locks before touching reservation
// rows, so no two operations can wait on each other's locks.
func lockInventory(ctx context.Context, tx pgx.Tx, skus []string) error {
	for _, sku := range skus {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM card_inventory WHERE sku=$1 FOR UPDATE`, sku).Scan(&one)
		if err != nil && err != pgx.ErrNoRows {
			return err
		}
	}
	return nil
}

func skuList(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collect(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.SKU, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
