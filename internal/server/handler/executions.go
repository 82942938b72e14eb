package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionHandler serves finished executions and realized profit.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logger.With(slog.String("handler", "executions"))}
}

type executionJSON struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"`
	Symbol         string     `json:"symbol"`
	BuyVenue       string     `json:"buy_venue"`
	SellVenue      string     `json:"sell_venue"`
	TradeSize      string     `json:"trade_size"`
	ExpectedProfit string     `json:"expected_profit"`
	RealizedProfit string     `json:"realized_profit"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	Attempts       int        `json:"attempts"`
	Handle         string     `json:"handle,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toExecutionJSON(rec domain.ExecutionRecord) executionJSON {
	out := executionJSON{
		ID:             rec.ID,
		Key:            rec.Key.String(),
		Symbol:         rec.Symbol,
		BuyVenue:       rec.BuyVenue,
		SellVenue:      rec.SellVenue,
		TradeSize:      rec.TradeSize.String(),
		ExpectedProfit: rec.ExpectedProfit.String(),
		RealizedProfit: rec.RealizedProfit.String(),
		Status:         string(rec.Status),
		Reason:         rec.Reason,
		Attempts:       rec.Attempts,
		Handle:         string(rec.Handle),
		StartedAt:      rec.StartedAt,
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ListRecent returns the most recent finished executions.
// GET /api/executions?limit=20
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	recs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	out := make([]executionJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toExecutionJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

// Get returns one execution by id.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, toExecutionJSON(rec))
}

// Profit returns the realized profit of confirmed executions since a point in
// time, defaulting to the last 24 hours.
// GET /api/executions/profit?since=2026-01-01T00:00:00Z
func (h *ExecutionHandler) Profit(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	sum, err := h.store.SumRealized(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sum realized failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to sum realized profit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":           since.UTC().Format(time.RFC3339),
		"realized_profit": sum,
	})
}
