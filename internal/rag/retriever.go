package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voltassist/internal/index"
	"voltassist/internal/middleware"
)

// IndexSource yields the index to search. *index.Ref satisfies it.
type IndexSource interface {
	Current() *index.Index
}

type Retriever struct {
	embedder Embedder
	indexes  IndexSource
	topK     int
	log      *QueryLogger
}

func NewRetriever(e Embedder, indexes IndexSource, topK int, log *QueryLogger) *Retriever {
	if topK <= 0 {
		topK = index.DefaultK
	}
	return &Retriever{embedder: e, indexes: indexes, topK: topK, log: log}
}

// Retrieve embeds query with the index's own model and returns the top
// chunks by similarity. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]index.Hit, error) {
	start := time.Now()
	idx := r.indexes.Current()
	if idx == nil {
		return nil, fmt.Errorf("%w: no index loaded", index.ErrNotFound)
	}
	if idx.Len() > 0 && idx.Model != r.embedder.Model() {
		return nil, fmt.Errorf("%w: index %q, query %q", index.ErrModelMismatch, idx.Model, r.embedder.Model())
	}
	if idx.Len() == 0 {
		slog.WarnContext(ctx, "retrieval against empty index")
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vec) != idx.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %d", index.ErrModelMismatch, len(vec), idx.Dimension)
	}

	hits := idx.Search(vec, r.topK)

	if r.log != nil {
		entry := QueryLogEntry{
			Query:         query,
			Model:         idx.Model,
			NumResults:    len(hits),
			Sources:       sources(hits),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
			SessionID:     middleware.GetSessionID(ctx),
		}
		if len(hits) > 0 {
			entry.TopScore = hits[0].Score
		}
		r.log.Log(entry)
	}
	return hits, nil
}
