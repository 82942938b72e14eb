package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 2 * time.Second

// HealthHandler serves the liveness endpoint and reports every configured
// backend probe.
type HealthHandler struct {
	startedAt time.Time
	probes    map[string]func(context.Context) error
}

// NewHealthHandler creates a HealthHandler. probes may be nil.
func NewHealthHandler(startedAt time.Time, probes map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, probes: probes}
}

type probeResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthCheck answers 200 when every probe passes and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]probeResult, len(names))
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = probeResult{Name: name, OK: true}
			if err := h.probes[name](ctx); err != nil {
				results[i] = probeResult{Name: name, Error: err.Error()}
			}
			return nil
		})
	}
	_ = g.Wait()

	status, code := "ok", http.StatusOK
	for _, res := range results {
		if !res.OK {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"backends":       results,
	})
}
