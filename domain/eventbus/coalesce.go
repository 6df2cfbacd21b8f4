package eventbus

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// Coalescer batches high-frequency telemetry events (health-check
// results) per model and flushes at most one digest per model per tick,
// keeping the bus from being flooded at the configured health-check
// cadence. Lifecycle events (state changes, query milestones) bypass the
// Coalescer entirely and go straight to Bus.Publish.
type Coalescer struct {
	bus  *Bus
	cron *cron.Cron

	mu     sync.Mutex
	latest map[string]query.Event
}

// NewCoalescer constructs a Coalescer publishing to bus at the given rate
// (a cron "@every <interval>" spec, matching the Fleet Manager's own
// health-check ticker convention).
func NewCoalescer(bus *Bus, interval string) (*Coalescer, error) {
	c := &Coalescer{
		bus:    bus,
		cron:   cron.New(cron.WithSeconds()),
		latest: make(map[string]query.Event),
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.cron.AddFunc(spec, c.flush); err != nil {
		return nil, fmt.Errorf("eventbus: schedule coalescer: %w", err)
	}
	c.cron.Start()
	return c, nil
}

// Stop halts the coalescing ticker. Buffered events are discarded, not
// flushed, since a stopped Coalescer means no one is consuming the bus.
func (c *Coalescer) Stop() {
	c.cron.Stop()
}

// Offer records e as the latest telemetry event for its model id,
// replacing any prior unflushed event for the same model — only the most
// recent observation survives to the next tick.
func (c *Coalescer) Offer(modelID string, e query.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[modelID] = e
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	pending := c.latest
	c.latest = make(map[string]query.Event)
	c.mu.Unlock()

	for _, e := range pending {
		c.bus.Publish(e)
	}
}
