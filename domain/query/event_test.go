package query

import "testing"

func TestSequenceSourceMonotonic(t *testing.T) {
	var seq SequenceSource
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		next := seq.Next()
		if next <= prev {
			t.Fatalf("sequence not increasing: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventQueryReceived, "q-1", map[string]interface{}{"text": "hi"})
	if e.Kind != EventQueryReceived {
		t.Errorf("Kind = %v", e.Kind)
	}
	if e.QueryID != "q-1" {
		t.Errorf("QueryID = %v", e.QueryID)
	}
}

func TestLaggedEvent(t *testing.T) {
	e := LaggedEvent(7)
	if e.Kind != EventLagged {
		t.Errorf("Kind = %v, want lagged", e.Kind)
	}
	if e.Payload["count"] != 7 {
		t.Errorf("Payload[count] = %v, want 7", e.Payload["count"])
	}
}
