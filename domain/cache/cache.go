// Package cache implements the Response Cache: a sharded, size-bounded,
// TTL-aware cache keyed by a Fingerprint over the normalized request
// inputs that materially affect output.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	shardCount       = 16
	defaultShardSize = 256
	defaultTTL       = 30 * time.Minute
)

// Entry is one cached response, scoped to the epoch of the model that
// produced it so a later config change to that model invalidates only
// its own entries.
type Entry struct {
	Response    interface{}
	ModelID     string
	StoredAt    time.Time
	TTL         time.Duration
	globalEpoch uint64
	modelEpoch  uint64
}

func (e Entry) expired(now time.Time) bool {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return now.After(e.StoredAt.Add(ttl))
}

// epochs tracks a global invalidation counter (bumped on wholesale
// invalidation, e.g. a context index rebuild) plus one counter per model
// id (bumped when that model's effective configuration changes) —
// adapted from the teacher's infrastructure/cache.Cache InvalidateVersion/
// InvalidateByVersion idiom, scoped per-model instead of globally so a
// config change to one model never evicts every other model's entries.
type epochs struct {
	mu     sync.RWMutex
	global uint64
	models map[string]uint64
}

func newEpochs() *epochs {
	return &epochs{models: make(map[string]uint64)}
}

func (e *epochs) current(modelID string) (global, model uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.global, e.models[modelID]
}

func (e *epochs) bumpGlobal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global++
}

func (e *epochs) bumpModel(modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[modelID]++
}

// Cache is the Response Cache. Reads are non-blocking with respect to the
// request path (a miss never waits on writer work); writes are
// best-effort and never fail the request.
type Cache struct {
	shards [shardCount]*lru.Cache[Fingerprint, Entry]
	epochs *epochs
}

// Config controls shard capacity.
type Config struct {
	ShardSize int
}

// DefaultConfig returns the documented default cache size.
func DefaultConfig() Config {
	return Config{ShardSize: defaultShardSize}
}

// New constructs a Cache with shardCount independent LRU shards.
func New(cfg Config) (*Cache, error) {
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = defaultShardSize
	}
	c := &Cache{epochs: newEpochs()}
	for i := range c.shards {
		shard, err := lru.New[Fingerprint, Entry](cfg.ShardSize)
		if err != nil {
			return nil, err
		}
		c.shards[i] = shard
	}
	return c, nil
}

// Get returns the cached entry for fp if present, unexpired, and still
// valid under the current epoch for its model and the global epoch.
func (c *Cache) Get(fp Fingerprint) (Entry, bool) {
	shard := c.shards[fp.Shard()]
	entry, ok := shard.Get(fp)
	if !ok {
		return Entry{}, false
	}
	if entry.expired(time.Now()) {
		shard.Remove(fp)
		return Entry{}, false
	}

	global, model := c.epochs.current(entry.ModelID)
	if entry.globalEpoch != global || entry.modelEpoch != model {
		shard.Remove(fp)
		return Entry{}, false
	}
	return entry, true
}

// Put stores a response under fp, stamped with the current epoch for
// modelID so a later invalidation can recognize it as stale.
func (c *Cache) Put(fp Fingerprint, modelID string, response interface{}, ttl time.Duration) {
	global, model := c.epochs.current(modelID)
	entry := Entry{
		Response:    response,
		ModelID:     modelID,
		StoredAt:    time.Now(),
		TTL:         ttl,
		globalEpoch: global,
		modelEpoch:  model,
	}
	c.shards[fp.Shard()].Add(fp, entry)
}

// InvalidateModel bumps one model's epoch, making every cache entry
// attributed to that model a miss on next read without a separate sweep.
func (c *Cache) InvalidateModel(modelID string) {
	c.epochs.bumpModel(modelID)
}

// InvalidateAll bumps the global epoch, invalidating every entry
// regardless of model — used when the underlying context index is
// rebuilt.
func (c *Cache) InvalidateAll() {
	c.epochs.bumpGlobal()
}

// Len reports the total number of entries across all shards, including
// ones that would be recognized as stale or expired on the next Get.
func (c *Cache) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}
