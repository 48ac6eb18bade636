// Package checkout composes the catalog, order ledger, reservation engine and
// payment gateway into one checkout-creation saga. Every step that allocates
// an external resource has a compensating action, so no failure path leaves
// stock reserved without a cancelled order behind it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IronblockT/bodega-galatica/internal/catalog"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/mercadopago"
	"github.com/IronblockT/bodega-galatica/internal/reservation"
)

type Catalog interface {
	Quote(ctx context.Context, skus []string) (map[string]catalog.Quote, error)
}

type Ledger interface {
	CreateDraft(ctx context.Context, userID, currency string, items []ledger.NewItem) (ledger.Order, error)
	MarkReserved(ctx context.Context, orderID string) error
	MarkAwaitingPayment(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID, reason string) error
	RecordPendingPayment(ctx context.Context, orderID, provider, preferenceID string, amountCents int64, currency string, raw []byte) error
}

type Reservations interface {
	Reserve(ctx context.Context, orderID string, items []reservation.Item) (time.Time, error)
}

type Gateway interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (mercadopago.Preference, error)
}

type ItemRequest struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type PayerInfo struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type Request struct {
	UserID string        `json:"user_id"`
	Items  []ItemRequest `json:"items"`
	Payer  *PayerInfo    `json:"payer,omitempty"`
}

type Result struct {
	OrderID      string `json:"order_id"`
	PreferenceID string `json:"preference_id"`
	RedirectURL  string `json:"init_point"`
}

// ValidationError is the caller's fault; nothing was created.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

// PricingError means at least one SKU has no authoritative positive price; no
// order was created.
type PricingError struct{ SKUs []string }

func (e *PricingError) Error() string {
	return fmt.Sprintf("no valid price for %s", strings.Join(e.SKUs, ", "))
}

// ProviderError wraps a payment-provider failure after compensations ran.
type ProviderError struct{ Err error }

func (e *ProviderError) Error() string { return fmt.Sprintf("payment provider: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

type Orchestrator struct {
	Catalog      Catalog
	Ledger       Ledger
	Reservations Reservations
	Gateway      Gateway
	AppURL       string
	Currency     string
}

// CreateCheckout runs the checkout saga: quote, draft order with frozen
// snapshots, all-or-nothing reservation, provider preference, awaiting
// payment. Each later failure cancels the order, which releases any hold.
func (o *Orchestrator) CreateCheckout(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	skus := make([]string, len(req.Items))
	for i, it := range req.Items {
		skus[i] = it.SKU
	}
	quotes, err := o.Catalog.Quote(ctx, skus)
	if err != nil {
		return Result{}, fmt.Errorf("quote catalog: %w", err)
	}
	var unpriced []string
	for _, sku := range skus {
		q, ok := quotes[sku]
		if !ok || q.UnitPriceCents <= 0 {
			unpriced = append(unpriced, sku)
		}
	}
	if len(unpriced) > 0 {
		return Result{}, &PricingError{SKUs: unpriced}
	}

	newItems := make([]ledger.NewItem, len(req.Items))
	resItems := make([]reservation.Item, len(req.Items))
	prefItems := make([]mercadopago.PreferenceItem, len(req.Items))
	for i, it := range req.Items {
		q := quotes[it.SKU]
		newItems[i] = ledger.NewItem{
			SKU:            it.SKU,
			Qty:            it.Qty,
			UnitPriceCents: q.UnitPriceCents,
			Snapshot: ledger.ItemSnapshot{
				Title:          q.Title,
				CardUID:        q.CardUID,
				Finish:         q.Finish,
				Condition:      q.Condition,
				PromoType:      q.PromoType,
				UnitPriceCents: q.UnitPriceCents,
			},
		}
		resItems[i] = reservation.Item{SKU: it.SKU, Qty: it.Qty}
		prefItems[i] = mercadopago.PreferenceItem{
			Title:      q.Title,
			Quantity:   it.Qty,
			UnitPrice:  float64(q.UnitPriceCents) / 100,
			CurrencyID: o.Currency,
		}
	}

	order, err := o.Ledger.CreateDraft(ctx, req.UserID, o.Currency, newItems)
	if err != nil {
		return Result{}, err
	}

	if _, err := o.Reservations.Reserve(ctx, order.ID, resItems); err != nil {
		o.cancel(ctx, order.ID, "reservation failed")
		var short *reservation.InsufficientStockError
		if errors.As(err, &short) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("reserve stock for order %s: %w", order.ID, err)
	}
	if err := o.Ledger.MarkReserved(ctx, order.ID); err != nil {
		o.cancel(ctx, order.ID, "internal error")
		return Result{}, err
	}

	pref, err := o.Gateway.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items:             prefItems,
		ExternalReference: order.ID,
		NotificationURL:   o.AppURL + "/webhooks/mercadopago",
		BackURLs: mercadopago.BackURLs{
			Success: o.AppURL + "/checkout/success?order=" + order.ID,
			Failure: o.AppURL + "/checkout/failure?order=" + order.ID,
			Pending: o.AppURL + "/checkout/pending?order=" + order.ID,
		},
		AutoReturn: "approved",
		Payer:      payer(req.Payer),
	})
	if err != nil {
		o.cancel(ctx, order.ID, "preference creation failed")
		return Result{}, &ProviderError{Err: err}
	}

	if err := o.Ledger.MarkAwaitingPayment(ctx, order.ID); err != nil {
		o.cancel(ctx, order.ID, "internal error")
		return Result{}, err
	}
	if err := o.Ledger.RecordPendingPayment(ctx, order.ID, mercadopago.Provider, pref.ID, order.TotalCents, o.Currency, pref.Raw); err != nil {
		o.cancel(ctx, order.ID, "internal error")
		return Result{}, err
	}

	return Result{OrderID: order.ID, PreferenceID: pref.ID, RedirectURL: pref.InitPoint}, nil
}

// cancel is the shared compensation path: cancelling through the ledger
// releases any reservation held for the order.
func (o *Orchestrator) cancel(ctx context.Context, orderID, reason string) {
	if err := o.Ledger.Cancel(ctx, orderID, reason); err != nil {
		slog.Error("checkout compensation failed", "order_id", orderID, "reason", reason, "error", err)
	}
}

func validate(req Request) error {
	if req.UserID == "" {
		return &ValidationError{Reason: "user_id is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Reason: "cart is empty"}
	}
	for _, it := range req.Items {
		if it.SKU == "" || it.Qty <= 0 {
			return &ValidationError{Reason: "items need a sku and a positive qty"}
		}
	}
	return nil
}

func payer(p *PayerInfo) *mercadopago.Payer {
	if p == nil || (p.Email == "" && p.Name == "") {
		return nil
	}
	return &mercadopago.Payer{Email: p.Email, Name: p.Name}
}
