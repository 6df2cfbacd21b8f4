package eventbus

import (
	"testing"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(query.NewEvent(query.EventQueryReceived, "q1", nil))

	select {
	case e := <-sub.Events():
		if e.Kind != query.EventQueryReceived {
			t.Errorf("Kind = %v, want EventQueryReceived", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(query.NewEvent(query.EventQueryReceived, "q1", nil))
	b.Publish(query.NewEvent(query.EventComplexityAssessed, "q1", nil))

	e1 := <-sub.Events()
	e2 := <-sub.Events()
	if e2.Seq <= e1.Seq {
		t.Errorf("sequence numbers not monotonic: %d then %d", e1.Seq, e2.Seq)
	}
}

func TestFullQueueDropsOldestAndMarksLag(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(query.NewEvent(query.EventHealthCheck, "q1", map[string]interface{}{"i": i}))
	}

	var sawLagged bool
	drained := 0
	for {
		select {
		case e := <-sub.Events():
			drained++
			if e.Kind == query.EventLagged {
				sawLagged = true
			}
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Fatal("expected at least one event to be drained")
	}
	if !sawLagged {
		t.Error("expected a lagged marker after overflowing the queue")
	}
}

func TestOrderingPreservedPerSubscriber(t *testing.T) {
	b := New(16)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(query.NewEvent(query.EventDialogueTurn, "q1", map[string]interface{}{"i": i}))
	}

	var lastSeq uint64
	for i := 0; i < 5; i++ {
		e := <-sub.Events()
		if e.Seq < lastSeq {
			t.Fatalf("out-of-order delivery: %d after %d", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
	}
}

func TestCloseStopsDeliveryAndDrains(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	b.Publish(query.NewEvent(query.EventQueryReceived, "q1", nil))

	sub.Close()
	if b.SubscriberCount() != 0 {
		t.Error("expected subscriber to be removed after Close")
	}

	// Publishing after close must not panic or block.
	b.Publish(query.NewEvent(query.EventQueryComplete, "q1", nil))
}

func TestMultipleSubscribersEachGetEvents(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(query.NewEvent(query.EventRouteDecided, "q1", nil))

	select {
	case <-sub1.Events():
	case <-time.After(time.Second):
		t.Fatal("sub1 did not receive event")
	}
	select {
	case <-sub2.Events():
	case <-time.After(time.Second):
		t.Fatal("sub2 did not receive event")
	}
}
