package fleet

import "time"

// RuntimeStateKind is a model's position in the lifecycle state machine.
type RuntimeStateKind string

const (
	StateOffline    RuntimeStateKind = "OFFLINE"
	StateStarting   RuntimeStateKind = "STARTING"
	StateReady      RuntimeStateKind = "READY"
	StateProcessing RuntimeStateKind = "PROCESSING"
	StateDegraded   RuntimeStateKind = "DEGRADED"
	StateStopping   RuntimeStateKind = "STOPPING"
)

// historyCapacity bounds every rolling metric deque to length 20, per the
// Fleet Manager's documented history bound.
const historyCapacity = 20

// ring is a fixed-capacity float64 ring buffer used for tokens-per-second,
// VRAM-gigabytes, and health-check latency-milliseconds histories.
type ring struct {
	values []float64
}

func newRing() *ring {
	return &ring{values: make([]float64, 0, historyCapacity)}
}

func (r *ring) push(v float64) {
	if len(r.values) == historyCapacity {
		copy(r.values, r.values[1:])
		r.values = r.values[:historyCapacity-1]
	}
	r.values = append(r.values, v)
}

func (r *ring) slice() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

func (r *ring) len() int {
	return len(r.values)
}

// RuntimeState is the Fleet Manager's exclusively-owned per-model state.
// Mutated only inside the Fleet Manager; all other readers observe a
// Snapshot.
type RuntimeState struct {
	State              RuntimeStateKind
	LastCheck          time.Time
	ConsecutiveFailures int
	ConsecutiveSuccess int
	TokensPerSecond    *ring
	VRAMGigabytes      *ring
	LatencyMS          *ring
	RequestCount       uint64
	ErrorCount         uint64
	StartTime          time.Time
}

func newRuntimeState() *RuntimeState {
	return &RuntimeState{
		State:           StateOffline,
		TokensPerSecond: newRing(),
		VRAMGigabytes:   newRing(),
		LatencyMS:       newRing(),
	}
}

// RecordHealthy appends one successful observation across all three history
// series, keeping their lengths equal.
func (s *RuntimeState) RecordHealthy(tokensPerSecond, vramGB, latencyMS float64) {
	s.TokensPerSecond.push(tokensPerSecond)
	s.VRAMGigabytes.push(vramGB)
	s.LatencyMS.push(latencyMS)
	s.LastCheck = time.Now()
	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccess++
}

// RecordUnhealthy appends a zero-padded observation across all three
// history series so their lengths stay equal even when a health check
// fails entirely, per the equal-length-histories contract.
func (s *RuntimeState) RecordUnhealthy() {
	s.TokensPerSecond.push(0)
	s.VRAMGigabytes.push(0)
	s.LatencyMS.push(0)
	s.LastCheck = time.Now()
	s.ConsecutiveSuccess = 0
	s.ConsecutiveFailures++
}

// Routable reports whether a model in this state may be returned from
// Fleet Manager's select().
func (s *RuntimeState) Routable(failureThreshold int) bool {
	if s.State != StateReady && s.State != StateProcessing {
		return false
	}
	return s.ConsecutiveFailures < failureThreshold
}

// Snapshot is an immutable point-in-time copy of RuntimeState, safe to read
// without holding the Fleet Manager's lock.
type Snapshot struct {
	State               RuntimeStateKind
	LastCheck           time.Time
	ConsecutiveFailures int
	TokensPerSecond     []float64
	VRAMGigabytes       []float64
	LatencyMS           []float64
	RequestCount        uint64
	ErrorCount          uint64
	StartTime           time.Time
}

func (s *RuntimeState) snapshot() Snapshot {
	return Snapshot{
		State:               s.State,
		LastCheck:           s.LastCheck,
		ConsecutiveFailures: s.ConsecutiveFailures,
		TokensPerSecond:     s.TokensPerSecond.slice(),
		VRAMGigabytes:       s.VRAMGigabytes.slice(),
		LatencyMS:           s.LatencyMS.slice(),
		RequestCount:        s.RequestCount,
		ErrorCount:          s.ErrorCount,
		StartTime:           s.StartTime,
	}
}
