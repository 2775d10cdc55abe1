package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"voltassist/internal/text"
)

// DocumentLoader produces the normalized source documents an index is built from.
type DocumentLoader interface {
	Load(ctx context.Context) ([]text.Document, error)
}

type Splitter interface {
	SplitAll(docs []text.Document) []text.Chunk
}

// BuildObserver is told about every build attempt. result is "built",
// "loaded" or "failed".
type BuildObserver interface {
	ObserveBuild(result string, chunks int, elapsed time.Duration)
}

type ManagerOptions struct {
	Concurrency      int
	RebuildOnCorrupt bool
	Observer         BuildObserver
}

// Manager turns a cache location into a ready index: it loads the persisted
// cache when present and otherwise builds from source and persists the
// result. Concurrent first-time callers for one location share a single build.
type Manager struct {
	open     func(location string) Store
	loader   DocumentLoader
	splitter Splitter
	embedder Embedder
	opts     ManagerOptions

	group singleflight.Group
	mu    sync.RWMutex
	ready map[string]*Index
}

func NewManager(open func(location string) Store, loader DocumentLoader, splitter Splitter, embedder Embedder, opts ManagerOptions) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Manager{
		open:     open,
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		opts:     opts,
		ready:    make(map[string]*Index),
	}
}

// Get returns the index for location, loading or building it on first use.
func (m *Manager) Get(ctx context.Context, location string) (*Index, error) {
	m.mu.RLock()
	idx, ok := m.ready[location]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	ch := m.group.DoChan(location, func() (interface{}, error) {
		// The build outlives any single caller's cancellation.
		return m.loadOrBuild(context.WithoutCancel(ctx), location)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

// Rebuild ignores any persisted cache, rebuilds from source and replaces the
// in-process copy.
func (m *Manager) Rebuild(ctx context.Context, location string) (*Index, error) {
	v, err, _ := m.group.Do("rebuild:"+location, func() (interface{}, error) {
		idx, err := m.build(ctx, location)
		if err != nil {
			return nil, err
		}
		m.remember(location, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

func (m *Manager) loadOrBuild(ctx context.Context, location string) (*Index, error) {
	m.mu.RLock()
	idx, ok := m.ready[location]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	start := time.Now()
	idx, err := m.open(location).Load(ctx)
	switch {
	case err == nil && idx.Model != m.embedder.Model():
		err = fmt.Errorf("%w: cache built with %q, embedder uses %q", ErrModelMismatch, idx.Model, m.embedder.Model())
		if !m.opts.RebuildOnCorrupt {
			m.observe("failed", 0, start)
			return nil, err
		}
		slog.WarnContext(ctx, "index cache model mismatch, rebuilding", "location", location, "error", err)
	case err == nil:
		slog.InfoContext(ctx, "index cache loaded", "location", location, "chunks", idx.Len(), "model", idx.Model)
		m.observe("loaded", idx.Len(), start)
		m.remember(location, idx)
		return idx, nil
	case errors.Is(err, ErrNotFound):
		slog.InfoContext(ctx, "index cache missing, building", "location", location)
	case errors.Is(err, ErrCorrupt) && m.opts.RebuildOnCorrupt:
		slog.WarnContext(ctx, "index cache corrupt, rebuilding", "location", location, "error", err)
	default:
		m.observe("failed", 0, start)
		return nil, fmt.Errorf("load index cache %s: %w", location, err)
	}

	idx, err = m.build(ctx, location)
	if err != nil {
		return nil, err
	}
	m.remember(location, idx)
	return idx, nil
}

func (m *Manager) build(ctx context.Context, location string) (*Index, error) {
	start := time.Now()
	docs, err := m.loader.Load(ctx)
	if err != nil {
		m.observe("failed", 0, start)
		return nil, fmt.Errorf("load documents: %w", err)
	}
	chunks := m.splitter.SplitAll(docs)
	slog.InfoContext(ctx, "building index", "location", location, "documents", len(docs), "chunks", len(chunks))

	idx, err := Build(ctx, chunks, m.embedder, m.opts.Concurrency)
	if err != nil {
		m.observe("failed", len(chunks), start)
		return nil, fmt.Errorf("build index: %w", err)
	}
	if err := m.open(location).Save(ctx, idx); err != nil {
		m.observe("failed", len(chunks), start)
		return nil, fmt.Errorf("persist index %s: %w", location, err)
	}

	m.observe("built", idx.Len(), start)
	slog.InfoContext(ctx, "index built", "location", location, "chunks", idx.Len(), "duration_ms", time.Since(start).Milliseconds())
	return idx, nil
}

func (m *Manager) remember(location string, idx *Index) {
	m.mu.Lock()
	m.ready[location] = idx
	m.mu.Unlock()
}

func (m *Manager) observe(result string, chunks int, start time.Time) {
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveBuild(result, chunks, time.Since(start))
	}
}
