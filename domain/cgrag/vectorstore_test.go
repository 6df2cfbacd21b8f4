package cgrag

import (
	"path/filepath"
	"testing"
)

func TestVectorStoreSearchOrdering(t *testing.T) {
	v := NewVectorStore(2)
	mustAdd(t, v, Chunk{ID: "far", Vector: []float64{10, 10}})
	mustAdd(t, v, Chunk{ID: "near", Vector: []float64{1, 1}})
	mustAdd(t, v, Chunk{ID: "exact", Vector: []float64{0, 0}})

	matches, err := v.Search([]float64{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("Search() returned %d matches, want 3", len(matches))
	}
	if matches[0].ChunkID != "exact" || matches[1].ChunkID != "near" || matches[2].ChunkID != "far" {
		t.Errorf("Search() order = %v, want [exact near far]", matches)
	}
}

func TestVectorStoreDimensionMismatch(t *testing.T) {
	v := NewVectorStore(3)
	if err := v.Add(Chunk{ID: "a", Vector: []float64{1, 2}}); err != ErrDimensionMismatch {
		t.Errorf("Add() error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := v.Search([]float64{1, 2}, 1); err != ErrDimensionMismatch {
		t.Errorf("Search() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestVectorStoreEmptyIndex(t *testing.T) {
	v := NewVectorStore(2)
	matches, err := v.Search([]float64{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Search() on empty index = %v, want empty", matches)
	}
}

func TestVectorStoreRebuildSwapsAtomically(t *testing.T) {
	v := NewVectorStore(2)
	mustAdd(t, v, Chunk{ID: "old", Vector: []float64{1, 1}})

	if err := v.Rebuild([]Chunk{{ID: "new", Vector: []float64{2, 2}}}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if v.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", v.Len())
	}
	matches, _ := v.Search([]float64{2, 2}, 1)
	if matches[0].ChunkID != "new" {
		t.Errorf("Rebuild did not replace contents: got %v", matches)
	}
}

func TestVectorStorePersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vectorPath := filepath.Join(dir, "index.gob")
	sidecarPath := filepath.Join(dir, "index.yaml")

	v := NewVectorStore(2)
	mustAdd(t, v, Chunk{ID: "a", Vector: []float64{1, 0}, Source: "doc-a", Text: "alpha"})
	mustAdd(t, v, Chunk{ID: "b", Vector: []float64{0, 1}, Source: "doc-b", Text: "beta"})

	if err := v.PersistToDisk(vectorPath, sidecarPath); err != nil {
		t.Fatalf("PersistToDisk() error = %v", err)
	}

	loaded := NewVectorStore(2)
	if err := loaded.LoadFromDisk(vectorPath, sidecarPath); err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded Len() = %d, want 2", loaded.Len())
	}

	matches, err := loaded.Search([]float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches[0].ChunkID != "a" || matches[0].Text != "alpha" {
		t.Errorf("Search() = %+v, want chunk a/alpha", matches[0])
	}
}

func TestVectorStoreLoadMissingFileReturnsUnavailable(t *testing.T) {
	v := NewVectorStore(2)
	err := v.LoadFromDisk("/nonexistent/vectors.gob", "/nonexistent/sidecar.yaml")
	if err == nil {
		t.Fatal("expected error loading missing index")
	}
}

func mustAdd(t *testing.T, v *VectorStore, c Chunk) {
	t.Helper()
	if err := v.Add(c); err != nil {
		t.Fatalf("Add(%q) error = %v", c.ID, err)
	}
}
