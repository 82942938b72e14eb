package handler

import (
	"net/http"
)

// StatusInfo is the static part of the status response.
type StatusInfo struct {
	Mode    string   `json:"mode"`
	Symbols []string `json:"symbols"`
	Venues  []string `json:"venues"`
}

// DropCounter reports how many telemetry events were dropped.
type DropCounter interface {
	Dropped() int64
}

// StatusHandler serves the process status.
type StatusHandler struct {
	info    StatusInfo
	dropped DropCounter
}

// NewStatusHandler creates a StatusHandler. dropped may be nil.
func NewStatusHandler(info StatusInfo, dropped DropCounter) *StatusHandler {
	return &StatusHandler{info: info, dropped: dropped}
}

// GetStatus responds with the mode, tracked symbols and venues.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":    h.info.Mode,
		"symbols": h.info.Symbols,
		"venues":  h.info.Venues,
	}
	if h.dropped != nil {
		resp["telemetry_dropped"] = h.dropped.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
