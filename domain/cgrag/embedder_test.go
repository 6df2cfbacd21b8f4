package cgrag

import (
	"context"
	"testing"
)

func TestDeterministicEmbedderIsDeterministic(t *testing.T) {
	e := NewDeterministicEmbedder(32, 3)
	v1, _ := e.Embed(context.Background(), "The quick brown fox jumps")
	v2, _ := e.Embed(context.Background(), "The quick brown fox jumps")
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embeddings diverged at index %d: %v vs %v", i, v1, v2)
		}
	}
}

func TestDeterministicEmbedderNormalizationInsensitive(t *testing.T) {
	e := NewDeterministicEmbedder(32, 3)
	v1, _ := e.Embed(context.Background(), "hello   world")
	v2, _ := e.Embed(context.Background(), "hello world")
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("whitespace-insensitive embeddings diverged at %d", i)
		}
	}
}

func TestDeterministicEmbedderPreservesBatchOrder(t *testing.T) {
	e := NewDeterministicEmbedder(16, 2)
	texts := []string{"alpha beta", "gamma delta", "epsilon zeta"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	for i, text := range texts {
		single, _ := e.Embed(context.Background(), text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] diverges from single embed at %d", i, j)
			}
		}
	}
}

func TestDeterministicEmbedderEmptyTextIsZeroVector(t *testing.T) {
	e := NewDeterministicEmbedder(8, 3)
	v, _ := e.Embed(context.Background(), "   ")
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty text, got %v", v)
		}
	}
}

func TestDeterministicEmbedderDimension(t *testing.T) {
	e := NewDeterministicEmbedder(24, 3)
	if e.Dimension() != 24 {
		t.Errorf("Dimension() = %d, want 24", e.Dimension())
	}
}
