package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/IronblockT/bodega-galatica/internal/checkout"
	"github.com/IronblockT/bodega-galatica/internal/reservation"
)

type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.createCheckout)
}

func (h *CheckoutHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	res, err := h.Orchestrator.CreateCheckout(ctx, req)
	if err != nil {
		writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		invalid  *checkout.ValidationError
		pricing  *checkout.PricingError
		short    *reservation.InsufficientStockError
		provider *checkout.ProviderError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": invalid.Reason})
	case errors.As(err, &pricing):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "pricing failed", "skus": pricing.SKUs})
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "insufficient stock", "short": short.Short})
	case errors.As(err, &provider):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment provider unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
