package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Quote is the authoritative checkout-time view of a SKU: the unit price that
// gets frozen into the order item snapshot plus the attributes the snapshot
// carries.
type Quote struct {
	SKU            string
	CardUID        string
	Title          string
	Finish         string
	Condition      string
	PromoType      string
	UnitPriceCents int64
	Available      bool
}

type Product struct {
	SKU            string    `json:"sku"`
	CardUID        string    `json:"card_uid"`
	Title          string    `json:"title"`
	Finish         string    `json:"finish,omitempty"`
	Condition      string    `json:"condition,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Stock          int       `json:"stock"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store reads product and price data by SKU. It queries one schema only; the
// legacy table fallback from earlier migrations is gone.
type Store struct{ DB *pgxpool.Pool }

const quoteQuery = `
	SELECT i.sku, i.card_uid, c.title, COALESCE(i.finish,''), COALESCE(i.condition,''),
	       COALESCE(i.promo_type,''), c.min_price_cents, i.stock > 0
	FROM card_inventory i
	JOIN cards c ON c.card_uid = i.card_uid
	WHERE i.sku = ANY($1)`

// Quote resolves current unit prices for the given SKUs. SKUs absent from the
// returned map are unknown to the catalog; the caller decides whether that
// fails the request.
func (s *Store) Quote(ctx context.Context, skus []string) (map[string]Quote, error) {
	rows, err := s.DB.Query(ctx, quoteQuery, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Quote, len(skus))
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.SKU, &q.CardUID, &q.Title, &q.Finish, &q.Condition,
			&q.PromoType, &q.UnitPriceCents, &q.Available); err != nil {
			return nil, err
		}
		out[q.SKU] = q
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT i.sku, i.card_uid, c.title, COALESCE(i.finish,''), COALESCE(i.condition,''),
		       c.min_price_cents, i.stock, i.updated_at
		FROM card_inventory i
		JOIN cards c ON c.card_uid = i.card_uid
		ORDER BY i.sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.CardUID, &p.Title, &p.Finish, &p.Condition,
			&p.UnitPriceCents, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
