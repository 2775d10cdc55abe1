// Package resilience guards calls to the hosted model with a client-side
// rate limit and a circuit breaker, so a failing upstream is not hammered by
// every open session.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("model service temporarily unavailable")

type Options struct {
	Name string
	// RequestsPerSecond <= 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuard(opts Options) *Guard {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	g := &Guard{}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	threshold := opts.FailureThreshold
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A caller giving up is not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

// Do waits for a rate-limit token and runs fn through the breaker. While the
// breaker is open fn is not called and the error wraps ErrUnavailable.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (g *Guard) State() gobreaker.State { return g.breaker.State() }

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Embedder runs every embedding call through a Guard.
type Embedder struct {
	next  embedder
	guard *Guard
}

func NewEmbedder(next embedder, guard *Guard) *Embedder {
	return &Embedder{next: next, guard: guard}
}

func (e *Embedder) Model() string { return e.next.Model() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.guard.Do(ctx, func(ctx context.Context) (err error) {
		vec, err = e.next.Embed(ctx, text)
		return err
	})
	return vec, err
}

// Completer runs every completion call through a Guard.
type Completer struct {
	next  completer
	guard *Guard
}

func NewCompleter(next completer, guard *Guard) *Completer {
	return &Completer{next: next, guard: guard}
}

func (c *Completer) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	err := c.guard.Do(ctx, func(ctx context.Context) (err error) {
		out, err = c.next.Complete(ctx, prompt, maxTokens)
		return err
	})
	return out, err
}
