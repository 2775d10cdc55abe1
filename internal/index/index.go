package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"voltassist/internal/text"
)

// DefaultK is the number of hits returned when the caller does not ask for a count.
const DefaultK = 4

var (
	ErrNotFound       = errors.New("index cache not found")
	ErrCorrupt        = errors.New("index cache corrupt")
	ErrModelMismatch  = errors.New("embedding model does not match index")
	ErrDimensionDrift = errors.New("embedding dimension mismatch")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Entry pairs a chunk with its embedding.
type Entry struct {
	Chunk  text.Chunk
	Vector []float32
}

type Hit struct {
	Chunk text.Chunk `json:"chunk"`
	Score float64    `json:"score"`
}

// Index is a flat cosine-similarity index. It is immutable after Build/Load
// and safe for concurrent readers.
type Index struct {
	Model     string
	Dimension int
	Entries   []Entry

	norms []float64
}

// New assembles an index from precomputed entries, validating that every
// vector has the same dimension.
func New(model string, entries []Entry) (*Index, error) {
	idx := &Index{Model: model, Entries: entries}
	for i, e := range entries {
		if i == 0 {
			idx.Dimension = len(e.Vector)
		}
		if len(e.Vector) != idx.Dimension || len(e.Vector) == 0 {
			return nil, fmt.Errorf("%w: entry %d has %d values, want %d", ErrDimensionDrift, i, len(e.Vector), idx.Dimension)
		}
	}
	idx.norms = make([]float64, len(entries))
	for i, e := range entries {
		idx.norms[i] = norm(e.Vector)
	}
	return idx, nil
}

// Build embeds every chunk with at most concurrency calls in flight. Vectors
// land in chunk order regardless of completion order.
func Build(ctx context.Context, chunks []text.Chunk, embedder Embedder, concurrency int) (*Index, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %s#%d: %w", chunks[i].SourceID, chunks[i].Order, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(chunks))
	for i := range chunks {
		entries[i] = Entry{Chunk: chunks[i], Vector: vectors[i]}
	}
	return New(embedder.Model(), entries)
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

// Search returns up to k hits by descending cosine similarity. Equal scores
// keep insertion order.
func (idx *Index) Search(query []float32, k int) []Hit {
	if idx.Len() == 0 {
		return nil
	}
	if k <= 0 {
		k = DefaultK
	}
	if len(query) != idx.Dimension {
		return nil
	}

	qn := norm(query)
	hits := make([]Hit, len(idx.Entries))
	for i, e := range idx.Entries {
		hits[i] = Hit{Chunk: e.Chunk, Score: cosine(query, e.Vector, qn, idx.norms[i])}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
