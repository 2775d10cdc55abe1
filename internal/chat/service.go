package chat

import (
	"context"
	"sync/atomic"
	"time"

	"voltassist/internal/forms"
	"voltassist/internal/rag"
	"voltassist/internal/transcript"
)

const (
	DefaultTurnTimeout    = 60 * time.Second
	DefaultFailureMessage = "Sorry, something went wrong while answering your question. Please try again."
	DefaultGreeting       = "Hello, I am the customer service assistant. How can I help you?"
)

// TurnRecorder stores completed turns. *transcript.PostgresRepo satisfies it.
type TurnRecorder interface {
	Save(ctx context.Context, rec *transcript.Record) error
}

// Observer receives turn, stage, session and link measurements.
type Observer interface {
	forms.LinkObserver
	ObserveTurn(outcome string)
	ObserveStage(stage string, elapsed time.Duration)
	SessionOpened()
	SessionClosed()
}

type Deps struct {
	Embedder  rag.Embedder
	Completer rag.Completer
	Index     rag.IndexSource
	Catalog   *forms.Catalog
	Links     forms.LinkIssuer
	QueryLog  *rag.QueryLogger
	Recorder  TurnRecorder
	Observer  Observer
}

type Options struct {
	Policy            rag.Policy
	TopK              int
	MaxOutputTokens   int
	CondenseMaxTokens int
	LinkTTL           time.Duration
	TurnTimeout       time.Duration
	Greeting          string
	FailureMessage    string
}

// Service holds what every session shares. It is built once at startup and
// is safe for concurrent use.
type Service struct {
	completer rag.Completer
	condenser *rag.Condenser
	retriever *rag.Retriever
	links     forms.LinkIssuer
	recorder  TurnRecorder
	observer  Observer
	opts      Options

	catalog atomic.Pointer[forms.Catalog]
}

func NewService(deps Deps, opts Options) *Service {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.FailureMessage == "" {
		opts.FailureMessage = DefaultFailureMessage
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = forms.DefaultLinkTTL
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	s := &Service{
		completer: deps.Completer,
		condenser: rag.NewCondenser(deps.Completer, opts.CondenseMaxTokens),
		retriever: rag.NewRetriever(deps.Embedder, deps.Index, opts.TopK, deps.QueryLog),
		links:     deps.Links,
		recorder:  deps.Recorder,
		observer:  obs,
		opts:      opts,
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = forms.NewCatalog("", nil)
	}
	s.catalog.Store(catalog)
	return s
}

func (s *Service) Catalog() *forms.Catalog { return s.catalog.Load() }

// SetCatalog replaces the form catalog. Existing sessions keep the list
// their generator was built with until they are reset.
func (s *Service) SetCatalog(c *forms.Catalog) { s.catalog.Store(c) }

func (s *Service) Greeting() string { return s.opts.Greeting }

// NewGenerator binds the current catalog into a fresh generator.
func (s *Service) NewGenerator() *rag.Generator {
	return rag.NewGenerator(s.completer, s.opts.Policy, s.Catalog().Names(), s.opts.MaxOutputTokens)
}

func (s *Service) augmenter() *forms.Augmenter {
	return forms.NewAugmenter(s.Catalog(), s.links, s.opts.LinkTTL, s.observer)
}

type nopObserver struct{}

func (nopObserver) ObserveLink(string) {}
func (nopObserver) ObserveTurn(string) {}
func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}

func (s *Service) FormCount() int { return s.Catalog().Len() }
