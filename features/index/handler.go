package index

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	idx "voltassist/internal/index"
	"voltassist/internal/middleware"
)

// RebuildQueue hands a rebuild to a background worker.
type RebuildQueue interface {
	RequestRebuild(ctx context.Context, location string) error
}

// Rebuilder runs a rebuild in the request.
type Rebuilder interface {
	Rebuild(ctx context.Context, location string) (*idx.Index, error)
}

type IndexSource interface {
	Current() *idx.Index
}

type Handler struct {
	queue    RebuildQueue
	inline   Rebuilder
	current  IndexSource
	location string
}

// NewHandler queues rebuilds when queue is set and runs them inline
// otherwise.
func NewHandler(queue RebuildQueue, inline Rebuilder, current IndexSource, location string) *Handler {
	return &Handler{queue: queue, inline: inline, current: current, location: location}
}

type indexView struct {
	Location  string `json:"location"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Chunks    int    `json:"chunks"`
	Status    string `json:"status,omitempty"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cur := h.current.Current()
	if cur == nil {
		h.writeError(r.Context(), w, "NOT_FOUND", "no index loaded", http.StatusNotFound)
		return
	}
	h.writeData(r.Context(), w, http.StatusOK, indexView{
		Location:  h.location,
		Model:     cur.Model,
		Dimension: cur.Dimension,
		Chunks:    cur.Len(),
	})
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	// Only the configured cache is ever rebuilt; it is the one startup loads.
	if req.Location != "" && req.Location != h.location {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "location does not match the configured index", http.StatusBadRequest)
		return
	}
	location := h.location

	if h.queue != nil {
		if err := h.queue.RequestRebuild(r.Context(), location); err != nil {
			slog.ErrorContext(r.Context(), "failed to queue index rebuild", "error", err)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "failed to queue rebuild", http.StatusInternalServerError)
			return
		}
		h.writeData(r.Context(), w, http.StatusAccepted, indexView{Location: location, Status: "queued"})
		return
	}

	// A client hanging up must not cancel the embedding batch half way.
	built, err := h.inline.Rebuild(context.WithoutCancel(r.Context()), location)
	if err != nil {
		h.writeError(r.Context(), w, "REBUILD_FAILED", "index rebuild failed", http.StatusBadGateway)
		return
	}
	h.writeData(r.Context(), w, http.StatusOK, indexView{
		Location:  location,
		Model:     built.Model,
		Dimension: built.Dimension,
		Chunks:    built.Len(),
		Status:    "rebuilt",
	})
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
