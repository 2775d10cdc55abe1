package index

import "sync/atomic"

// Ref holds the index currently served to sessions. Readers take a snapshot
// with Current; a rebuild swaps it with Store without blocking them.
type Ref struct {
	p atomic.Pointer[Index]
}

func NewRef(idx *Index) *Ref {
	r := &Ref{}
	r.p.Store(idx)
	return r
}

func (r *Ref) Current() *Index { return r.p.Load() }

func (r *Ref) Store(idx *Index) { r.p.Store(idx) }
