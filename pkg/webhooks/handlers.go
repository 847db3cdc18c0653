package webhooks

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Handlers provides HTTP handlers for subscription management
type Handlers struct {
	store      *Store
	dispatcher *Dispatcher
}

// NewHandlers creates webhook handlers
func NewHandlers(store *Store, dispatcher *Dispatcher) *Handlers {
	return &Handlers{store: store, dispatcher: dispatcher}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createWebhook).Methods("POST")
	router.HandleFunc("/webhooks", h.listWebhooks).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.getWebhook).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods("PUT")
	router.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/activate", h.setActive(true)).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deactivate", h.setActive(false)).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods("GET")
}

type subscriptionRequest struct {
	URL         string            `json:"url"`
	Events      []audit.EventType `json:"events"`
	Secret      string            `json:"secret,omitempty"`
	Format      Format            `json:"format,omitempty"`
	Description string            `json:"description,omitempty"`
}

func (req subscriptionRequest) subscription() *Subscription {
	return &Subscription{
		URL:         req.URL,
		Events:      req.Events,
		Secret:      req.Secret,
		Format:      req.Format,
		Description: req.Description,
	}
}

// createWebhook handles POST /webhooks
func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub := req.subscription()
	if err := h.store.Create(r.Context(), sub); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, sub)
}

// listWebhooks handles GET /webhooks
func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.List(r.Context(), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	_ = httputil.WriteSuccess(w, subs)
}

// getWebhook handles GET /webhooks/{id}
func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, sub)
}

// updateWebhook handles PUT /webhooks/{id}
func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req subscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.store.Update(r.Context(), id, req.subscription())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, sub)
}

// deleteWebhook handles DELETE /webhooks/{id}
func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// setActive handles POST /webhooks/{id}/activate and /deactivate
func (h *Handlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.ParsePathInt64OrError(w, r, "id")
		if !ok {
			return
		}

		if err := h.store.SetActive(r.Context(), id, active); err != nil {
			h.writeError(w, r, err)
			return
		}
		_ = httputil.WriteSuccess(w, map[string]interface{}{"id": id, "active": active})
	}
}

// listDeliveries handles GET /webhooks/{id}/deliveries?limit=n
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50, 1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"deliveries": h.dispatcher.Deliveries(id, limit),
		"stats":      h.dispatcher.Stats(id),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidSubscription):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("webhook request failed")
		httputil.WriteError(w, http.StatusInternalServerError, err)
	}
}
