package cache

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is a cache key: a blake2b-256 digest over the normalized
// request inputs that materially affect output. It excludes timestamps
// and client identity.
type Fingerprint [32]byte

// Shard returns the fingerprint's shard index, used to bucket entries
// across the cache's 16 independent LRU shards.
func (f Fingerprint) Shard() int {
	return int(f[0]) % shardCount
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", f[:8])
}

// FingerprintInputs are the normalized, material request fields hashed
// into a Fingerprint.
type FingerprintInputs struct {
	NormalizedQuery    string
	Mode               string
	Tier               string
	ContextFingerprint string
	TemperatureBucket  int
	MaxTokens          int
}

// Compute hashes the normalized inputs into a Fingerprint. Flags that do
// not materially affect output (timestamps, client identity) are
// deliberately excluded from the input set.
func Compute(in FingerprintInputs) Fingerprint {
	parts := []string{
		normalizeForFingerprint(in.NormalizedQuery),
		in.Mode,
		in.Tier,
		in.ContextFingerprint,
		strconv.Itoa(in.TemperatureBucket),
		strconv.Itoa(in.MaxTokens),
	}
	joined := strings.Join(parts, "\x1f")
	return blake2b.Sum256([]byte(joined))
}

// TemperatureBucket rounds a continuous temperature into a small number
// of discrete buckets so near-identical requests share a cache entry.
func TemperatureBucket(temperature float64) int {
	return int(temperature*10 + 0.5)
}

func normalizeForFingerprint(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
