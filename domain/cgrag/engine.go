package cgrag

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	minK                = 4
	maxK                = 64
	kPerTokens          = 2000 // one extra candidate per 2000 tokens of budget
	defaultMinRelevance = 0.7
)

// Artifact is one packed piece of retrieved context.
type Artifact struct {
	ChunkID   string
	Source    string
	Text      string
	Relevance float64
}

// RetrievalResult is the CGRAG Engine's output: a token-bounded,
// relevance-ordered context pack.
type RetrievalResult struct {
	Artifacts   []Artifact
	TokensUsed  int
	Unavailable bool
}

// ContextFingerprint hashes the ordered artifact ids, used by the Response
// Cache to scope fingerprints to the exact retrieved context.
func (r RetrievalResult) ContextFingerprint() string {
	ids := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		ids[i] = a.ChunkID
	}
	return strings.Join(ids, "|")
}

// Engine turns a natural-language query into a RetrievalResult.
type Engine struct {
	store    *VectorStore
	embedder Embedder

	mu           sync.Mutex
	embedCache   map[string][]float64
	minRelevance float64
}

// NewEngine constructs a CGRAG Engine over a Vector Store and Embedder.
func NewEngine(store *VectorStore, embedder Embedder, minRelevance float64) *Engine {
	if minRelevance <= 0 {
		minRelevance = defaultMinRelevance
	}
	return &Engine{
		store:        store,
		embedder:     embedder,
		embedCache:   make(map[string][]float64),
		minRelevance: minRelevance,
	}
}

// Retrieve runs the full algorithm: normalize, embed (cached), search with
// k scaled from the token budget, filter by minimum relevance, and pack
// greedily by descending relevance until the budget would be exceeded.
// On an absent or unreachable dependency it returns an empty, Unavailable
// result rather than propagating an error across the component boundary.
func (e *Engine) Retrieve(ctx context.Context, query string, tokenBudget int) RetrievalResult {
	if tokenBudget <= 0 {
		return RetrievalResult{}
	}

	normalized := normalize(query)

	vec, ok := e.cachedEmbedding(normalized)
	if !ok {
		embedded, err := e.embedder.Embed(ctx, normalized)
		if err != nil {
			return RetrievalResult{Unavailable: true}
		}
		vec = embedded
		e.storeEmbedding(normalized, vec)
	}

	k := scaleK(tokenBudget)
	matches, err := e.store.Search(vec, k)
	if err != nil {
		return RetrievalResult{Unavailable: true}
	}

	candidates := make([]Artifact, 0, len(matches))
	for _, m := range matches {
		relevance := distanceToRelevance(m.Distance)
		if relevance < e.minRelevance {
			continue
		}
		candidates = append(candidates, Artifact{
			ChunkID:   m.ChunkID,
			Source:    m.Source,
			Text:      m.Text,
			Relevance: relevance,
		})
	}

	return pack(candidates, tokenBudget)
}

func scaleK(tokenBudget int) int {
	k := minK + tokenBudget/kPerTokens
	if k < minK {
		k = minK
	}
	if k > maxK {
		k = maxK
	}
	return k
}

// distanceToRelevance converts an L2 distance (on unit-normalized vectors,
// in [0,2]) into a relevance score in [0,1], matching cosine-similarity
// intuition without requiring vectors to carry a separate similarity
// metric.
func distanceToRelevance(distance float64) float64 {
	relevance := 1.0 - distance/2.0
	if relevance < 0 {
		return 0
	}
	if relevance > 1 {
		return 1
	}
	return relevance
}

// pack greedily selects artifacts in descending relevance order, ties
// broken by chunk id (strings.Compare) for determinism, stopping once the
// next artifact would exceed the token budget.
func pack(candidates []Artifact, tokenBudget int) RetrievalResult {
	sorted := make([]Artifact, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	result := RetrievalResult{}
	used := 0
	for _, a := range sorted {
		cost := EstimateTokens(a.Text)
		if used+cost > tokenBudget {
			break
		}
		result.Artifacts = append(result.Artifacts, a)
		used += cost
	}
	result.TokensUsed = used
	return result
}

// less reports whether a sorts before b: higher relevance first, ties
// broken by ascending chunk id.
func less(a, b Artifact) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	return strings.Compare(a.ChunkID, b.ChunkID) < 0
}

func (e *Engine) cachedEmbedding(normalized string) ([]float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.embedCache[normalized]
	return v, ok
}

func (e *Engine) storeEmbedding(normalized string, vec []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embedCache[normalized] = vec
}
