// Package cgrag implements the Vector Store, Embedder, and Contextually-
// Guided Retrieval engine: the pipeline that turns a natural-language
// query into a token-bounded, relevance-ordered context pack.
package cgrag

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"gopkg.in/yaml.v3"
)

// ErrDimensionMismatch is returned when a query vector's length does not
// match the dimension fixed at index construction.
var ErrDimensionMismatch = errors.New("cgrag: query vector dimension mismatch")

// Chunk is one indexed retrieval unit.
type Chunk struct {
	ID     string
	Vector []float64
	Source string
	Text   string
}

// Match is one nearest-neighbor result.
type Match struct {
	ChunkID  string
	Distance float64
	Source   string
	Text     string
}

// VectorStore is an in-memory, mutex-guarded flat index with brute-force
// nearest-neighbor scan — appropriate at the <=10^5 chunk scale the
// performance contract targets.
type VectorStore struct {
	mu        sync.RWMutex
	dimension int
	chunks    []Chunk
}

// NewVectorStore constructs an empty store fixed to dimension d.
func NewVectorStore(dimension int) *VectorStore {
	return &VectorStore{dimension: dimension}
}

// Dimension reports the fixed vector dimension.
func (v *VectorStore) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dimension
}

// Add appends a chunk to the index. The chunk's vector must match the
// store's fixed dimension.
func (v *VectorStore) Add(c Chunk) error {
	if len(c.Vector) != v.dimension {
		return ErrDimensionMismatch
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks = append(v.chunks, c)
	return nil
}

// Len reports the number of indexed chunks.
func (v *VectorStore) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.chunks)
}

// Search returns up to k nearest chunks to query, strictly ascending by
// L2 distance, ties broken by insertion order. An empty index returns an
// empty result rather than an error.
func (v *VectorStore) Search(query []float64, k int) ([]Match, error) {
	if len(query) != v.dimension {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	type scored struct {
		idx  int
		dist float64
	}
	scores := make([]scored, len(v.chunks))
	for i, c := range v.chunks {
		scores[i] = scored{idx: i, dist: l2Distance(query, c.Vector)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].dist < scores[j].dist
	})

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]Match, k)
	for i := 0; i < k; i++ {
		c := v.chunks[scores[i].idx]
		out[i] = Match{ChunkID: c.ID, Distance: scores[i].dist, Source: c.Source, Text: c.Text}
	}
	return out, nil
}

// Rebuild replaces the index contents wholesale: the new chunk set is
// built into a side buffer and swapped in under the write lock, so
// readers never observe a partially rebuilt index.
func (v *VectorStore) Rebuild(chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Vector) != v.dimension {
			return ErrDimensionMismatch
		}
	}
	next := make([]Chunk, len(chunks))
	copy(next, chunks)

	v.mu.Lock()
	v.chunks = next
	v.mu.Unlock()
	return nil
}

// diskImage is the gob-encoded binary body persisted by PersistToDisk.
type diskImage struct {
	Dimension int
	Vectors   map[string][]float64
}

// sidecarEntry is one chunk's human-editable metadata, persisted alongside
// the binary vector body.
type sidecarEntry struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Text   string `yaml:"text"`
}

// PersistToDisk writes the index as a gob-encoded binary vector body at
// vectorPath and a YAML sidecar of chunk metadata at sidecarPath, each via
// a temp-file-then-rename for atomic replacement.
func (v *VectorStore) PersistToDisk(vectorPath, sidecarPath string) error {
	v.mu.RLock()
	image := diskImage{Dimension: v.dimension, Vectors: make(map[string][]float64, len(v.chunks))}
	sidecar := make([]sidecarEntry, 0, len(v.chunks))
	for _, c := range v.chunks {
		image.Vectors[c.ID] = c.Vector
		sidecar = append(sidecar, sidecarEntry{ID: c.ID, Source: c.Source, Text: c.Text})
	}
	v.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(image); err != nil {
		return fmt.Errorf("cgrag: encode vector image: %w", err)
	}
	if err := writeAtomic(vectorPath, buf.Bytes()); err != nil {
		return err
	}

	yamlBody, err := yaml.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("cgrag: encode sidecar: %w", err)
	}
	return writeAtomic(sidecarPath, yamlBody)
}

// LoadFromDisk replaces the store's contents with the persisted image at
// vectorPath/sidecarPath. A missing or corrupt pair returns a diagnostic
// error; the caller (cmd/synapsed at startup) treats this as "no index available"
// rather than propagating a hard failure.
func (v *VectorStore) LoadFromDisk(vectorPath, sidecarPath string) error {
	vectorBytes, err := os.ReadFile(vectorPath)
	if err != nil {
		return qerrors.RetrievalUnavailableErr(fmt.Errorf("read vector image: %w", err))
	}
	var image diskImage
	if err := gob.NewDecoder(bytes.NewReader(vectorBytes)).Decode(&image); err != nil {
		return qerrors.RetrievalUnavailableErr(fmt.Errorf("decode vector image: %w", err))
	}

	sidecarBytes, err := os.ReadFile(sidecarPath)
	if err != nil {
		return qerrors.RetrievalUnavailableErr(fmt.Errorf("read sidecar: %w", err))
	}
	var sidecar []sidecarEntry
	if err := yaml.Unmarshal(sidecarBytes, &sidecar); err != nil {
		return qerrors.RetrievalUnavailableErr(fmt.Errorf("decode sidecar: %w", err))
	}

	chunks := make([]Chunk, 0, len(sidecar))
	for _, e := range sidecar {
		vec, ok := image.Vectors[e.ID]
		if !ok {
			continue
		}
		chunks = append(chunks, Chunk{ID: e.ID, Vector: vec, Source: e.Source, Text: e.Text})
	}

	v.mu.Lock()
	v.dimension = image.Dimension
	v.chunks = chunks
	v.mu.Unlock()
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cgrag: write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cgrag: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func l2Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
