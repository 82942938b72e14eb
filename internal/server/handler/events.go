package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventHandler serves stored telemetry events.
type EventHandler struct {
	store  domain.EventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(store domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: store, logger: logger.With(slog.String("handler", "events"))}
}

type eventJSON struct {
	ID     int64          `json:"id"`
	Type   string         `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
}

// List returns stored events, newest first, optionally filtered by type.
// GET /api/events?type=execution_transition&since=...&until=...&limit=50
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	eventType := domain.EventType(r.URL.Query().Get("type"))
	if eventType != "" && !eventType.Known() {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since and until must be RFC3339")
		return
	}

	events, err := h.store.List(r.Context(), eventType, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, eventJSON{ID: ev.ID, Type: string(ev.Type), At: ev.At, Fields: ev.Fields})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
