package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"voltassist/internal/text"
)

const (
	manifestFile    = "manifest.json"
	vectorsFile     = "vectors.bin"
	manifestVersion = 1
)

// Store persists an index at one location.
type Store interface {
	// Load returns ErrNotFound when nothing is stored and an error wrapping
	// ErrCorrupt when stored data cannot be decoded.
	Load(ctx context.Context) (*Index, error)
	Save(ctx context.Context, idx *Index) error
}

type manifest struct {
	Version   int          `json:"version"`
	Model     string       `json:"model"`
	Dimension int          `json:"dimension"`
	Count     int          `json:"count"`
	CreatedAt time.Time    `json:"created_at"`
	Chunks    []text.Chunk `json:"chunks"`
}

// DirStore keeps an index in a directory: manifest.json with chunk records
// and vectors.bin with little-endian float32 embeddings in chunk order.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) Path() string { return s.dir }

func (s *DirStore) Load(ctx context.Context) (*Index, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrCorrupt, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", ErrCorrupt, m.Version)
	}
	if m.Count != len(m.Chunks) {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, count says %d", ErrCorrupt, len(m.Chunks), m.Count)
	}

	vecRaw, err := os.ReadFile(filepath.Join(s.dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read vectors: %v", ErrCorrupt, err)
	}
	if len(vecRaw) != m.Count*m.Dimension*4 {
		return nil, fmt.Errorf("%w: vectors file has %d bytes, want %d", ErrCorrupt, len(vecRaw), m.Count*m.Dimension*4)
	}

	entries := make([]Entry, m.Count)
	for i := range entries {
		vec := make([]float32, m.Dimension)
		off := i * m.Dimension * 4
		for j := range vec {
			bits := binary.LittleEndian.Uint32(vecRaw[off+j*4:])
			vec[j] = math.Float32frombits(bits)
		}
		entries[i] = Entry{Chunk: m.Chunks[i], Vector: vec}
	}

	idx, err := New(m.Model, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	idx.Dimension = m.Dimension
	return idx, nil
}

// Save writes vectors first and the manifest last, each through a temp file
// and rename, so a present manifest always describes a complete cache.
func (s *DirStore) Save(ctx context.Context, idx *Index) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	// A stale manifest must not describe the new vectors mid-write.
	if err := os.Remove(filepath.Join(s.dir, manifestFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old manifest: %w", err)
	}

	var vb bytes.Buffer
	vb.Grow(idx.Len() * idx.Dimension * 4)
	m := manifest{
		Version:   manifestVersion,
		Model:     idx.Model,
		Dimension: idx.Dimension,
		Count:     idx.Len(),
		CreatedAt: time.Now().UTC(),
		Chunks:    make([]text.Chunk, idx.Len()),
	}
	for i, e := range idx.Entries {
		m.Chunks[i] = e.Chunk
		for _, v := range e.Vector {
			if err := binary.Write(&vb, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	if err := writeFileAtomic(filepath.Join(s.dir, vectorsFile), vb.Bytes()); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, manifestFile), raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
