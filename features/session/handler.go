package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voltassist/internal/chat"
	"voltassist/internal/middleware"
	"voltassist/internal/rag"
	"voltassist/internal/transcript"
)

const maxQuestionBytes = 16 << 10

// TranscriptLister reads the recorded turns of a session.
type TranscriptLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]transcript.Record, error)
}

type Handler struct {
	sessions    *chat.Manager
	transcripts TranscriptLister
}

// NewHandler builds the session handler. transcripts may be nil when turns
// are not recorded.
func NewHandler(m *chat.Manager, transcripts TranscriptLister) *Handler {
	return &Handler{sessions: m, transcripts: transcripts}
}

type sessionView struct {
	ID        string     `json:"id"`
	Greeting  string     `json:"greeting,omitempty"`
	State     string     `json:"state"`
	History   []rag.Turn `json:"history,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Create opens a session and returns its id with the greeting to display.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create(r.Context())
	h.writeData(r.Context(), w, http.StatusCreated, sessionView{
		ID:        s.ID(),
		Greeting:  h.sessions.Service().Greeting(),
		State:     s.State().String(),
		CreatedAt: s.CreatedAt(),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeData(r.Context(), w, http.StatusOK, sessionView{
		ID:        s.ID(),
		State:     s.State().String(),
		History:   s.History(),
		CreatedAt: s.CreatedAt(),
	})
}

// Transcript returns the recorded turns of a session, failed ones included.
// Records outlive the session, so a deleted or expired id still resolves.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		h.writeError(r.Context(), w, "NOT_FOUND", "transcripts are not recorded", http.StatusNotFound)
		return
	}
	recs, err := h.transcripts.ListBySession(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list transcript", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []transcript.Record{}
	}
	h.writeData(r.Context(), w, http.StatusOK, map[string]interface{}{
		"session_id": r.PathValue("id"),
		"turns":      recs,
	})
}

func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxQuestionBytes)
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.Submit(r.Context(), req.Question)
	if err != nil {
		var te *chat.TurnError
		switch {
		case errors.Is(err, chat.ErrEmptyQuestion):
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "question is required", http.StatusBadRequest)
		case errors.Is(err, chat.ErrTurnInProgress):
			h.writeError(r.Context(), w, "TURN_IN_PROGRESS", "please wait for the current answer", http.StatusConflict)
		case errors.Is(err, chat.ErrSessionReset):
			h.writeError(r.Context(), w, "SESSION_RESET", "the conversation was reset", http.StatusConflict)
		case errors.As(err, &te):
			h.writeError(r.Context(), w, "TURN_FAILED", te.Message, http.StatusBadGateway)
		default:
			slog.ErrorContext(r.Context(), "turn failed", "error", err)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	h.writeData(r.Context(), w, http.StatusOK, reply)
}

// Reset clears the conversation memory but keeps the session.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Reset()
	slog.InfoContext(r.Context(), "session reset", "session_id", s.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(r.Context(), w, "NOT_FOUND", "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Forms lists the downloadable forms the assistant may recommend.
func (h *Handler) Forms(w http.ResponseWriter, r *http.Request) {
	h.writeData(r.Context(), w, http.StatusOK, map[string]interface{}{
		"forms": h.sessions.Service().Catalog().Names(),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, "NOT_FOUND", "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
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
