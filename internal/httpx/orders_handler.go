package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/IronblockT/bodega-galatica/internal/catalog"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/redisx"
)

// OrdersHandler serves the thin read paths: order status with a Redis cache
// in front of the ledger, and the product listing.
type OrdersHandler struct {
	Repo    *ledger.Repo
	Catalog *catalog.Store
	Redis   *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	status, err := h.Repo.GetOrderStatus(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	body, _ := json.Marshal(map[string]any{"order_id": orderID, "status": status})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
