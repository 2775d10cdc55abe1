package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voltassist/internal/forms"
	"voltassist/internal/index"
	"voltassist/internal/middleware"
	"voltassist/internal/rag"
	"voltassist/internal/text"
	"voltassist/internal/transcript"
)

var (
	ErrTurnInProgress  = errors.New("a turn is already in progress for this session")
	ErrSessionReset    = errors.New("session was reset while the turn was in progress")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyQuestion   = errors.New("question is empty")
)

type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Stage string

const (
	StageCondense Stage = "condense"
	StageRetrieve Stage = "retrieve"
	StageGenerate Stage = "generate"
)

// TurnError is the single failure a caller sees for a turn. Message is safe
// to show to the user; Err keeps the cause for logs and errors.Is.
type TurnError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *TurnError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *TurnError) Unwrap() error { return e.Err }

// Reply carries the answer with form links appended and the chunks it was
// grounded on.
type Reply struct {
	Answer    string       `json:"answer"`
	Condensed string       `json:"condensed_question"`
	Sources   []text.Chunk `json:"sources"`
	Links     []forms.Link `json:"links"`
}

// Session is one conversation. At most one turn per epoch runs at a time;
// Reset may be called at any point, starts a new epoch and discards the
// result of a turn in flight.
type Session struct {
	id      string
	svc     *Service
	created time.Time

	mu        sync.Mutex
	state     State
	history   []rag.Turn
	generator *rag.Generator
	epoch     uint64
	active    time.Time
}

func newSession(id string, svc *Service) *Session {
	now := time.Now()
	return &Session{id: id, svc: svc, created: now, active: now, generator: svc.NewGenerator()}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.created }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) History() []rag.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rag.Turn(nil), s.history...)
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reset clears memory and rebuilds the generator from the current catalog.
// The session is idle again at once: an in-flight turn keeps running but its
// result is dropped and it no longer blocks the next Submit.
func (s *Session) Reset() {
	gen := s.svc.NewGenerator()
	s.mu.Lock()
	s.history = nil
	s.generator = gen
	s.epoch++
	s.state = StateIdle
	s.active = time.Now()
	s.mu.Unlock()
}

// Submit runs one turn: condense, retrieve, generate, remember, then attach
// form links. Memory only changes when the whole turn succeeds.
func (s *Session) Submit(ctx context.Context, question string) (*Reply, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	s.mu.Lock()
	if s.state == StateAwaitingResponse {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	epoch := s.epoch
	history := append([]rag.Turn(nil), s.history...)
	gen := s.generator
	s.state = StateAwaitingResponse
	s.active = time.Now()
	s.mu.Unlock()

	ctx = middleware.WithSessionID(ctx, s.id)
	ctx, cancel := context.WithTimeout(ctx, s.svc.opts.TurnTimeout)
	defer cancel()

	start := time.Now()
	rec := &transcript.Record{
		SessionID:     s.id,
		CorrelationID: middleware.GetCorrelationID(ctx),
		TurnIndex:     len(history),
		Question:      question,
	}

	var condensed string
	var hits []index.Hit
	var answer *rag.Answer
	err := s.stage(ctx, StageCondense, func() (err error) {
		condensed, err = s.svc.condenser.Condense(ctx, question, history)
		return err
	})
	if err == nil {
		rec.StandaloneQuestion = condensed
		err = s.stage(ctx, StageRetrieve, func() (err error) {
			hits, err = s.svc.retriever.Retrieve(ctx, condensed)
			return err
		})
	}
	if err == nil {
		err = s.stage(ctx, StageGenerate, func() (err error) {
			answer, err = gen.Generate(ctx, question, hits, history)
			return err
		})
	}
	rec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		return nil, s.fail(ctx, epoch, rec, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		slog.InfoContext(ctx, "discarding answer for reset session")
		s.svc.observer.ObserveTurn("discarded")
		return nil, ErrSessionReset
	}
	s.history = append(s.history, rag.Turn{Question: question, Answer: answer.Text})
	s.state = StateIdle
	s.active = time.Now()
	s.mu.Unlock()

	augmented, links := s.svc.augmenter().Augment(ctx, answer.Text)

	rec.Answer = answer.Text
	rec.Sources = rag.SourceIDs(answer.Sources)
	rec.Outcome = "answered"
	for _, l := range links {
		rec.FormLinks = append(rec.FormLinks, l.Form)
	}
	s.record(ctx, rec)
	s.svc.observer.ObserveTurn("answered")
	slog.InfoContext(ctx, "turn answered", "turn", rec.TurnIndex, "sources", len(answer.Sources), "links", len(links), "duration_ms", rec.DurationMs)

	return &Reply{Answer: augmented, Condensed: condensed, Sources: answer.Sources, Links: links}, nil
}

func (s *Session) stage(ctx context.Context, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	s.svc.observer.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		return &TurnError{Stage: stage, Message: s.svc.opts.FailureMessage, Err: err}
	}
	return nil
}

func (s *Session) fail(ctx context.Context, epoch uint64, rec *transcript.Record, err error) error {
	var te *TurnError
	errors.As(err, &te)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.svc.observer.ObserveTurn("discarded")
		return ErrSessionReset
	}
	s.state = StateError
	s.mu.Unlock()

	slog.ErrorContext(ctx, "turn failed", "stage", te.Stage, "error", te.Err)
	s.svc.observer.ObserveTurn("failed")
	rec.Outcome = "failed"
	rec.ErrorStage = string(te.Stage)
	s.record(ctx, rec)
	return te
}

func (s *Session) record(ctx context.Context, rec *transcript.Record) {
	if s.svc.recorder == nil {
		return
	}
	// The turn's deadline may already be spent.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.svc.recorder.Save(rctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to record turn", "error", err)
	}
}
