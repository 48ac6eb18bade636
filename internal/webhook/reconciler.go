package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/mercadopago"
)

// Gateway fetches authoritative payment state from the provider. The
// notification body is only a pointer; amounts and statuses always come from
// this lookup.
type Gateway interface {
	GetPayment(ctx context.Context, paymentID string) (mercadopago.Payment, error)
}

// Ledger is the slice of the order ledger the reconciler drives.
type Ledger interface {
	OrderExists(ctx context.Context, orderID string) (bool, error)
	GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*ledger.Payment, error)
	UpsertPayment(ctx context.Context, p ledger.Payment) error
	MarkPaid(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID, reason string) error
}

type SignatureVerifier interface {
	Verify(rawBody []byte, signatureHeader, requestID, paymentID string) bool
}

// Result is what the HTTP layer returns to the provider.
type Result struct {
	Code       int    `json:"-"`
	Received   bool   `json:"received"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Error      string `json:"error,omitempty"`
}

func ack() Result           { return Result{Code: http.StatusOK, Received: true} }
func ackIdempotent() Result { return Result{Code: http.StatusOK, Received: true, Idempotent: true} }
func unauthorized() Result  { return Result{Code: http.StatusUnauthorized, Error: "invalid signature"} }

// Reconciler applies provider notifications to the order ledger idempotently.
// Internal failures after signature verification are absorbed with a 200: the
// provider's retry behaviour is aggressive and error responses only produce
// redundant load, so failures are logged for operators instead.
type Reconciler struct {
	Verifier SignatureVerifier
	Gateway  Gateway
	Ledger   Ledger
	Provider string
}

func (r *Reconciler) HandleNotification(ctx context.Context, rawBody []byte, signatureHeader, requestID string) Result {
	paymentID := ExtractPaymentID(rawBody)
	if paymentID == "" {
		// Nothing to act on; acknowledging stops pointless retries.
		return ack()
	}

	if !r.Verifier.Verify(rawBody, signatureHeader, requestID, paymentID) {
		return unauthorized()
	}

	pay, err := r.Gateway.GetPayment(ctx, paymentID)
	if err != nil {
		slog.Error("webhook: payment lookup failed", "payment_id", paymentID, "error", err)
		return ack()
	}

	existing, err := r.Ledger.GetPaymentByProviderID(ctx, r.Provider, paymentID)
	if err != nil {
		slog.Error("webhook: payment row lookup failed", "payment_id", paymentID, "error", err)
		return ack()
	}
	if existing != nil && existing.ProviderStatus == pay.Status && existing.ProviderUpdatedAt.Equal(pay.DateLastUpdated) {
		// This exact event was already fully applied.
		return ackIdempotent()
	}

	orderID := pay.ExternalReference
	if orderID == "" {
		slog.Warn("webhook: payment has no external reference", "payment_id", paymentID)
		return ack()
	}
	known, err := r.Ledger.OrderExists(ctx, orderID)
	if err != nil {
		slog.Error("webhook: order lookup failed", "order_id", orderID, "error", err)
		return ack()
	}
	if !known {
		// Likely a different environment or tenant; acknowledge and drop.
		slog.Warn("webhook: unknown order", "order_id", orderID, "payment_id", paymentID)
		return ack()
	}

	// The ledger transition runs before the payment row is stamped with the
	// provider status and timestamp. The stamp is what the fingerprint check
	// above matches on, so writing it first would let a transiently failed
	// transition swallow every redelivery of the same event as a false no-op.
	switch pay.Status {
	case "approved":
		err = r.Ledger.MarkPaid(ctx, orderID)
	case "rejected", "cancelled":
		err = r.Ledger.Cancel(ctx, orderID, "payment "+pay.Status)
	}
	if errors.Is(err, ledger.ErrTerminalConflict) {
		// Opposite terminal verdict: record it below so operators can see
		// the anomaly, but the order does not move.
		slog.Warn("webhook: event requests opposite terminal state, not applied",
			"order_id", orderID, "payment_id", paymentID, "provider_status", pay.Status)
	} else if err != nil {
		// Skipping the upsert keeps the stored fingerprint stale, so the
		// provider's redelivery retries the transition instead of matching
		// the idempotency check.
		slog.Error("webhook: ledger transition failed",
			"order_id", orderID, "payment_id", paymentID, "provider_status", pay.Status, "error", err)
		return ack()
	}

	if err := r.Ledger.UpsertPayment(ctx, ledger.Payment{
		OrderID:           orderID,
		Provider:          r.Provider,
		ProviderPaymentID: paymentID,
		ProviderStatus:    pay.Status,
		Status:            ledger.LocalPaymentStatus(pay.Status),
		ProviderUpdatedAt: pay.DateLastUpdated,
		AmountCents:       pay.AmountCents(),
		Currency:          pay.CurrencyID,
		Raw:               pay.Raw,
	}); err != nil {
		// Redelivery re-runs the (now idempotent) transition and retries
		// this write.
		slog.Error("webhook: payment upsert failed", "payment_id", paymentID, "error", err)
	}
	return ack()
}

// ExtractPaymentID pulls the payment id out of any of the notification shapes
// the provider sends: data.id, a top-level id, or the trailing segment of a
// resource URL.
func ExtractPaymentID(rawBody []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return ""
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if s := idString(data["id"]); s != "" {
			return s
		}
	}
	if s := idString(payload["id"]); s != "" {
		return s
	}
	if res, ok := payload["resource"].(string); ok && res != "" {
		parts := strings.Split(strings.TrimSuffix(res, "/"), "/")
		return parts[len(parts)-1]
	}
	return ""
}

// id fields arrive either as JSON strings or numbers depending on the
// notification version.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
