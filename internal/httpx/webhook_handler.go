package httpx

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IronblockT/bodega-galatica/internal/webhook"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Reconciler *webhook.Reconciler
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/mercadopago", h.receive)
	// Provider liveness probe on the same path.
	r.Get("/webhooks/mercadopago", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusOK, webhook.Result{Received: true})
		return
	}
	res := h.Reconciler.HandleNotification(
		r.Context(),
		rawBody,
		r.Header.Get("x-signature"),
		r.Header.Get("x-request-id"),
	)
	writeJSON(w, res.Code, res)
}
