package audit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Handlers serves the audit trail over HTTP
type Handlers struct {
	store Store
}

// NewHandlers creates audit handlers over store
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.ListEvents).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.GetEvent).Methods("GET")
	router.HandleFunc("/audit/export", h.ExportEvents).Methods("GET")
}

// ListEvents answers GET /audit/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  limit(filter.Limit),
		"offset": filter.Offset,
	})
}

// GetEvent answers GET /audit/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	_ = httputil.WriteSuccess(w, event)
}

// ExportEvents answers GET /audit/export?format=json|csv|ndjson
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, "format must be json, csv or ndjson")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit."+string(format))
	if err := Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit export failed")
	}
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{
		Principal: q.Get("principal"),
		Actor:     q.Get("actor"),
	}

	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, EventType(strings.TrimSpace(t)))
		}
	}

	var err error
	if filter.Since, err = httputil.ParseQueryTime(r, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = httputil.ParseQueryTime(r, "until"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 0, 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0, 0); err != nil {
		return filter, err
	}
	return filter, nil
}
