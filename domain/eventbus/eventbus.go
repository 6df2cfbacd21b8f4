// Package eventbus implements the Event Bus: a single in-process fan-out
// of Events to many subscribers, each with its own bounded queue.
package eventbus

import (
	"sync"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

const defaultQueueSize = 256

// Subscription is a live subscriber handle. Events arrive in order on
// Events(); Close drains and releases it deterministically.
type Subscription struct {
	id     uint64
	events chan query.Event
	bus    *Bus

	mu       sync.Mutex
	closed   bool
	lagCount int
}

// Events returns the channel events for this subscriber arrive on.
func (s *Subscription) Events() <-chan query.Event {
	return s.events
}

// Close stops delivery to this subscriber, drains any buffered events,
// and releases its queue deterministically. No events are emitted after
// Close returns.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.events)
	for range s.events {
	}
}

func (s *Subscription) deliver(e query.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- e:
		return
	default:
	}

	// Queue full: drop the oldest entry for this subscriber and retry,
	// tracking how many events were lost so a single lagged marker can
	// be spliced in once space is available.
	select {
	case <-s.events:
		s.lagCount++
	default:
	}

	select {
	case s.events <- e:
	default:
		s.lagCount++
	}
}

// Bus is the Event Bus: a bus-global sequence source plus a set of
// subscriptions, each independently bounded.
type Bus struct {
	seq *query.SequenceSource

	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	queueSize int
}

// New constructs an empty Bus. queueSize bounds each subscriber's queue;
// zero selects the documented default.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		seq:       &query.SequenceSource{},
		subs:      make(map[uint64]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber with a bounded queue.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		events: make(chan query.Event, b.queueSize),
		bus:    b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// Publish assigns the next bus-global sequence number to e, stamps Ts when
// it is still zero, and delivers e to every current subscriber,
// non-blockingly. If a subscriber had
// dropped entries since its last delivery, a synthetic EventLagged marker
// is spliced in immediately before e, preserving per-subscriber ordering.
func (b *Bus) Publish(e query.Event) {
	e.Seq = b.seq.Next()
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		lagged := s.lagCount
		s.lagCount = 0
		s.mu.Unlock()

		if lagged > 0 {
			s.deliver(query.LaggedEvent(lagged))
		}
		s.deliver(e)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
