package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PriceSource is the read side of the aggregator.
type PriceSource interface {
	Symbols() []string
	Snapshot(symbol string) aggregator.Snapshot
	Policy() aggregator.StalenessPolicy
}

// PriceHandler serves the latest per-venue prices.
type PriceHandler struct {
	prices PriceSource
	now    func() time.Time
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceSource) *PriceHandler {
	return &PriceHandler{prices: prices, now: time.Now}
}

type venuePrice struct {
	Venue      string    `json:"venue"`
	Kind       string    `json:"kind"`
	Price      string    `json:"price"`
	Bid        string    `json:"bid,omitempty"`
	Ask        string    `json:"ask,omitempty"`
	Depth      string    `json:"depth"`
	ObservedAt time.Time `json:"observed_at"`
	Sequence   uint64    `json:"sequence"`
	Stale      bool      `json:"stale"`
}

type symbolPrices struct {
	Symbol      string       `json:"symbol"`
	LastUpdated time.Time    `json:"last_updated"`
	Venues      []venuePrice `json:"venues"`
}

// ListSymbols returns every symbol that has received a tick.
// GET /api/prices
func (h *PriceHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	syms := h.prices.Symbols()
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": syms})
}

// GetSymbol returns the stored tick of every venue for one symbol, flagging
// the ones past their staleness threshold.
// GET /api/prices/{base}/{quote}
func (h *PriceHandler) GetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := domain.CanonicalSymbol(r.PathValue("base"), r.PathValue("quote"))
	snap := h.prices.Snapshot(symbol)
	if len(snap.Ticks) == 0 {
		writeError(w, http.StatusNotFound, "no prices for "+symbol)
		return
	}

	now := h.now()
	policy := h.prices.Policy()
	resp := symbolPrices{Symbol: symbol, LastUpdated: snap.LastUpdated}
	for _, venue := range sortedVenues(snap) {
		t := snap.Ticks[venue]
		resp.Venues = append(resp.Venues, venuePrice{
			Venue:      t.VenueID,
			Kind:       string(t.Kind),
			Price:      t.Price.String(),
			Bid:        quoted(t.Bid),
			Ask:        quoted(t.Ask),
			Depth:      t.LiquidityDepth.String(),
			ObservedAt: t.ObservedAt,
			Sequence:   t.Sequence,
			Stale:      !policy.Fresh(t, now),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func quoted(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func sortedVenues(snap aggregator.Snapshot) []string {
	out := make([]string, 0, len(snap.Ticks))
	for v := range snap.Ticks {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
