package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"voltassist/internal/index"
	"voltassist/internal/middleware"
)

type SessionCounter interface {
	Count() int
}

type IndexSource interface {
	Current() *index.Index
}

type FormCounter interface {
	FormCount() int
}

type TranscriptRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	sessions    SessionCounter
	index       IndexSource
	forms       FormCounter
	transcripts TranscriptRepo
}

// NewHandler builds the stats handler. transcripts may be nil when turns
// are not recorded.
func NewHandler(s SessionCounter, i IndexSource, f FormCounter, t TranscriptRepo) *Handler {
	return &Handler{sessions: s, index: i, forms: f, transcripts: t}
}

type StatsResponse struct {
	Sessions    int    `json:"sessions"`
	Chunks      int    `json:"chunks"`
	Model       string `json:"model"`
	Forms       int    `json:"forms"`
	Transcripts *int   `json:"transcripts,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	resp := StatsResponse{
		Sessions: h.sessions.Count(),
		Forms:    h.forms.FormCount(),
	}
	if cur := h.index.Current(); cur != nil {
		resp.Chunks = cur.Len()
		resp.Model = cur.Model
	}

	if h.transcripts != nil {
		tCount, err := h.transcripts.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count transcripts", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count transcripts", http.StatusInternalServerError)
			return
		}
		resp.Transcripts = &tCount
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
