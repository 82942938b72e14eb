package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ArchiveSource lists and decodes archived telemetry batches.
type ArchiveSource interface {
	ListDay(ctx context.Context, day time.Time) ([]domain.ArchiveObject, error)
	Read(ctx context.Context, key string) ([]map[string]any, error)
}

// ArchiveHandler serves the telemetry archive in object storage.
type ArchiveHandler struct {
	src    ArchiveSource
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(src ArchiveSource, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{src: src, logger: logger.With(slog.String("handler", "archives"))}
}

type archiveObjectJSON struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at,omitzero"`
}

// List returns the batches archived on one UTC day, today by default.
// GET /api/archives?day=2026-05-04
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if v := r.URL.Query().Get("day"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = d
	}

	objs, err := h.src.ListDay(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	out := make([]archiveObjectJSON, 0, len(objs))
	for _, o := range objs {
		out = append(out, archiveObjectJSON{Key: o.Key, Size: o.Size, UploadedAt: o.UploadedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":     day.Format(time.DateOnly),
		"objects": out,
	})
}

// Records decodes one archived batch.
// GET /api/archives/records?key=telemetry/2026/05/04/030201-<uuid>.pb
func (h *ArchiveHandler) Records(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	recs, err := h.src.Read(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "records": recs})
}
