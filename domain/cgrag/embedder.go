package cgrag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"

	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/resilience"
	"golang.org/x/text/unicode/norm"
)

// Embedder maps text to a fixed-length vector using a single pinned model.
// Implementations must be deterministic for identical input and must
// preserve input order in the batched form.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// normalize applies the shared normalization contract: Unicode NFC plus
// whitespace collapsing, so the Vector Store's determinism guarantee holds
// regardless of upstream text formatting.
func normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// DeterministicEmbedder hashes normalized shingles into a fixed-length
// vector. It has no dependency on a real neural embedding model — the
// model binaries themselves are out of scope — but is good enough to
// drive the Vector Store's contract and the CGRAG Engine's determinism
// guarantee in tests and in deployments fronting a real embedding server
// behind the same interface.
type DeterministicEmbedder struct {
	dimension   int
	shingleSize int
}

// NewDeterministicEmbedder constructs an embedder producing vectors of the
// given dimension, hashing shingles of shingleSize words.
func NewDeterministicEmbedder(dimension, shingleSize int) *DeterministicEmbedder {
	if shingleSize <= 0 {
		shingleSize = 3
	}
	return &DeterministicEmbedder{dimension: dimension, shingleSize: shingleSize}
}

func (e *DeterministicEmbedder) Dimension() int { return e.dimension }

func (e *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return e.embed(text), nil
}

func (e *DeterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *DeterministicEmbedder) embed(text string) []float64 {
	words := strings.Fields(normalize(text))
	vec := make([]float64, e.dimension)
	if len(words) == 0 {
		return vec
	}

	shingles := shingle(words, e.shingleSize)
	for _, s := range shingles {
		h := fnv.New64a()
		h.Write([]byte(s))
		bucket := int(h.Sum64() % uint64(e.dimension))
		vec[bucket] += 1.0
	}

	var norm2 float64
	for _, v := range vec {
		norm2 += v * v
	}
	if norm2 == 0 {
		return vec
	}
	inv := 1.0 / math.Sqrt(norm2)
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func shingle(words []string, size int) []string {
	if len(words) < size {
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-size+1)
	for i := 0; i+size <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+size], " "))
	}
	return out
}

// HTTPEmbedder calls out to an external embedding endpoint, following the
// Model Client's retry/timeout conventions. Its failure path returns an
// EmbeddingUnavailable error; the CGRAG Engine treats this as "context
// disabled for this request" rather than fatal.
type HTTPEmbedder struct {
	baseURL   string
	path      string
	dimension int
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewHTTPEmbedder constructs an Embedder backed by an external HTTP
// embedding service.
func NewHTTPEmbedder(baseURL, path string, dimension int, timeout time.Duration) *HTTPEmbedder {
	if path == "" {
		path = "/embed"
	}
	return &HTTPEmbedder{
		baseURL:   baseURL,
		path:      path,
		dimension: dimension,
		http:      &http.Client{Timeout: timeout},
		retry:     resilience.DefaultRetryConfig(),
	}
}

func (e *HTTPEmbedder) Dimension() int { return e.dimension }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = normalize(t)
	}

	reqBody, err := json.Marshal(map[string]interface{}{"texts": normalized})
	if err != nil {
		return nil, qerrors.EmbeddingUnavailableErr(fmt.Errorf("marshal embed request: %w", err))
	}

	var vectors [][]float64
	callErr := resilience.Retry(ctx, e.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+e.path, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("embed endpoint returned status %d", resp.StatusCode)
		}

		var decoded struct {
			Vectors [][]float64 `json:"vectors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode embed response: %w", err)
		}
		vectors = decoded.Vectors
		return nil
	})
	if callErr != nil {
		return nil, qerrors.EmbeddingUnavailableErr(callErr)
	}
	if len(vectors) != len(texts) {
		return nil, qerrors.EmbeddingUnavailableErr(fmt.Errorf("embed response length %d, want %d", len(vectors), len(texts)))
	}
	return vectors, nil
}
