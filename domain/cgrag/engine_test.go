package cgrag

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Dimension() int { return 2 }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[text], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func buildTestEngine() (*Engine, *stubEmbedder) {
	store := NewVectorStore(2)
	store.Add(Chunk{ID: "close", Vector: []float64{1, 0}, Text: "short chunk"})
	store.Add(Chunk{ID: "far", Vector: []float64{-1, 0}, Text: "another short chunk"})

	embedder := &stubEmbedder{vectors: map[string][]float64{"what is this": {1, 0}}}
	return NewEngine(store, embedder, 0.5), embedder
}

func TestRetrieveFiltersByMinRelevance(t *testing.T) {
	engine, _ := buildTestEngine()
	result := engine.Retrieve(context.Background(), "what is this", 1000)
	if result.Unavailable {
		t.Fatal("unexpected unavailable result")
	}
	for _, a := range result.Artifacts {
		if a.ChunkID == "far" {
			t.Errorf("expected low-relevance chunk 'far' to be filtered out")
		}
	}
}

func TestRetrieveZeroBudgetReturnsEmpty(t *testing.T) {
	engine, _ := buildTestEngine()
	result := engine.Retrieve(context.Background(), "what is this", 0)
	if len(result.Artifacts) != 0 {
		t.Errorf("expected empty result for zero budget, got %v", result.Artifacts)
	}
}

func TestRetrieveEmbedderFailureReturnsUnavailable(t *testing.T) {
	store := NewVectorStore(2)
	embedder := &stubEmbedder{err: errors.New("embedding backend down")}
	engine := NewEngine(store, embedder, 0.5)

	result := engine.Retrieve(context.Background(), "anything", 100)
	if !result.Unavailable {
		t.Error("expected Unavailable result on embedder failure")
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	engine, _ := buildTestEngine()
	r1 := engine.Retrieve(context.Background(), "what is this", 1000)
	r2 := engine.Retrieve(context.Background(), "what is this", 1000)
	if r1.ContextFingerprint() != r2.ContextFingerprint() {
		t.Errorf("fingerprints diverged: %q vs %q", r1.ContextFingerprint(), r2.ContextFingerprint())
	}
}

func TestPackStopsAtBudget(t *testing.T) {
	candidates := []Artifact{
		{ChunkID: "a", Relevance: 0.9, Text: "one two three four five six seven eight nine ten"},
		{ChunkID: "b", Relevance: 0.8, Text: "one two three four five six seven eight nine ten"},
	}
	result := pack(candidates, 20)
	if len(result.Artifacts) != 1 {
		t.Fatalf("pack() kept %d artifacts, want 1 under tight budget", len(result.Artifacts))
	}
	if result.Artifacts[0].ChunkID != "a" {
		t.Errorf("pack() kept %q, want highest-relevance chunk 'a'", result.Artifacts[0].ChunkID)
	}
}

func TestPackTieBreaksByChunkID(t *testing.T) {
	candidates := []Artifact{
		{ChunkID: "zeta", Relevance: 0.5, Text: "x"},
		{ChunkID: "alpha", Relevance: 0.5, Text: "y"},
	}
	result := pack(candidates, 100)
	if result.Artifacts[0].ChunkID != "alpha" {
		t.Errorf("pack() tie-break order = %v, want alpha first", result.Artifacts)
	}
}

func TestScaleKClampsToBounds(t *testing.T) {
	if k := scaleK(0); k != minK {
		t.Errorf("scaleK(0) = %d, want %d", k, minK)
	}
	if k := scaleK(1_000_000); k != maxK {
		t.Errorf("scaleK(huge) = %d, want %d", k, maxK)
	}
}
