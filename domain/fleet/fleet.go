// Package fleet implements the Model Fleet Manager: the authoritative
// registry of Model Descriptors and their Runtime State, plus the
// health-check loop that drives the OFFLINE->STARTING->READY->PROCESSING->
// DEGRADED->STOPPING state machine.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/state"
)

// Config controls the health protocol's thresholds and timing.
type Config struct {
	HealthCheckInterval  time.Duration
	FailureThreshold     int
	RecoverySuccessCount int
	ReservationDeadline  time.Duration
}

// DefaultConfig matches the spec's documented defaults: 1 Hz health checks,
// 3 consecutive failures to DEGRADE, 2 consecutive successes to recover.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:  time.Second,
		FailureThreshold:     3,
		RecoverySuccessCount: 2,
		ReservationDeadline:  60 * time.Second,
	}
}

// ModelClient is the narrow interface the Fleet Manager needs from
// domain/modelclient to drive health checks; kept here to avoid an import
// cycle between fleet and modelclient.
type ModelClient interface {
	Health(ctx context.Context) (ClientHealth, error)
}

// ClientHealth is the result of one Model Client health probe.
type ClientHealth struct {
	LatencyMS       float64
	TokensPerSecond float64
	VRAMGigabytes   float64
}

type entry struct {
	mu         sync.Mutex
	descriptor Descriptor
	runtime    *RuntimeState
	client     ModelClient
	reservedAt time.Time
	deadline   time.Time
}

// Manager is the Fleet Manager. It owns every registered model's
// Descriptor, RuntimeState, and ModelClient handle. All mutation of
// RuntimeState happens here; every other component reads a Snapshot.
type Manager struct {
	cfg     Config
	log     *logging.Logger
	bus     EventPublisher
	persist *state.PersistentState

	mu      sync.RWMutex
	entries map[string]*entry

	cancelHealth context.CancelFunc
}

// EventPublisher is the narrow subset of domain/eventbus.Bus the Fleet
// Manager needs to emit model-state-change and health-check events,
// avoiding an import cycle between fleet and eventbus.
type EventPublisher interface {
	Publish(e query.Event)
}

// New constructs a Manager. persist may be nil, in which case the registry
// is in-memory only.
func New(cfg Config, log *logging.Logger, bus EventPublisher, persist *state.PersistentState) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		persist: persist,
		entries: make(map[string]*entry),
	}
}

// Register adds a new model to the registry in the OFFLINE state. Admin
// plane operation.
func (m *Manager) Register(ctx context.Context, d Descriptor, client ModelClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[d.ID]; exists {
		return qerrors.Validation("id", fmt.Sprintf("model %q already registered", d.ID))
	}
	for id, e := range m.entries {
		if e.descriptor.Enabled && d.Enabled && e.descriptor.Port == d.Port {
			return qerrors.Validation("port", fmt.Sprintf("port %d already used by %q", d.Port, id))
		}
	}

	m.entries[d.ID] = &entry{
		descriptor: d,
		runtime:    newRuntimeState(),
		client:     client,
	}

	return m.persistLocked(ctx)
}

// Unregister removes a model from the registry. Admin plane operation,
// idempotent.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return m.persistLocked(ctx)
}

// SetEnabled flips a model's Enabled flag. Admin plane operation; takes
// effect on the next Start/health tick, it does not itself stop a running
// model.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return qerrors.Validation("id", fmt.Sprintf("model %q not registered", id))
	}
	e.mu.Lock()
	e.descriptor.Enabled = enabled
	e.mu.Unlock()
	return m.persistLocked(ctx)
}

// UpdateOverrides replaces a model's runtime Overrides. Admin plane
// operation; like SetEnabled, it does not itself restart the model —
// callers that need the new overrides live call Restart afterward.
func (m *Manager) UpdateOverrides(ctx context.Context, id string, overrides Overrides) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return qerrors.Validation("id", fmt.Sprintf("model %q not registered", id))
	}
	e.mu.Lock()
	e.descriptor.Overrides = overrides
	e.mu.Unlock()
	return m.persistLocked(ctx)
}

// Start transitions a model OFFLINE -> STARTING, then to READY only after
// a successful health check. Idempotent: starting an already-started model
// is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.runtime.State != StateOffline {
		e.mu.Unlock()
		return nil
	}
	e.runtime.State = StateStarting
	e.mu.Unlock()

	m.emitStateChange(id, StateStarting)

	health, err := e.client.Health(ctx)
	e.mu.Lock()
	if err != nil {
		e.runtime.State = StateOffline
		e.mu.Unlock()
		m.emitStateChange(id, StateOffline)
		return qerrors.ModelFatalErr(id, err)
	}
	e.runtime.State = StateReady
	e.runtime.StartTime = time.Now()
	e.runtime.RecordHealthy(health.TokensPerSecond, health.VRAMGigabytes, health.LatencyMS)
	e.mu.Unlock()

	m.emitStateChange(id, StateReady)
	return nil
}

// Stop transitions a model to STOPPING then OFFLINE. Idempotent.
func (m *Manager) Stop(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.runtime.State == StateOffline {
		e.mu.Unlock()
		return nil
	}
	e.runtime.State = StateStopping
	e.mu.Unlock()
	m.emitStateChange(id, StateStopping)

	e.mu.Lock()
	e.runtime.State = StateOffline
	e.mu.Unlock()
	m.emitStateChange(id, StateOffline)
	return nil
}

// Restart stops then starts a model.
func (m *Manager) Restart(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil {
		return err
	}
	return m.Start(ctx, id)
}

// Snapshot returns a coherent point-in-time view of one model's descriptor
// and runtime state.
func (m *Manager) Snapshot(id string) (Descriptor, Snapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return Descriptor{}, Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.descriptor, e.runtime.snapshot(), nil
}

// SnapshotAll returns every registered model's descriptor and runtime
// snapshot, used by the Router to compute candidate orderings over a
// non-mutating view.
func (m *Manager) SnapshotAll() map[string]struct {
	Descriptor Descriptor
	Runtime    Snapshot
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct {
		Descriptor Descriptor
		Runtime    Snapshot
	}, len(m.entries))

	for id, e := range m.entries {
		e.mu.Lock()
		out[id] = struct {
			Descriptor Descriptor
			Runtime    Snapshot
		}{Descriptor: e.descriptor, Runtime: e.runtime.snapshot()}
		e.mu.Unlock()
	}
	return out
}

// Select returns a candidate ordering of routable model ids within tier:
// lowest current utilization (READY before PROCESSING), tie-break by
// lowest recent latency, tie-break by stable id. It never reserves.
func (m *Manager) Select(tier query.Tier) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type candidate struct {
		id      string
		busy    bool
		latency float64
	}

	var candidates []candidate
	for id, e := range m.entries {
		e.mu.Lock()
		if e.descriptor.Tier == tier && e.descriptor.Enabled && e.runtime.Routable(m.cfg.FailureThreshold) {
			latency := 0.0
			if hist := e.runtime.LatencyMS.slice(); len(hist) > 0 {
				latency = hist[len(hist)-1]
			}
			candidates = append(candidates, candidate{
				id:      id,
				busy:    e.runtime.State == StateProcessing,
				latency: latency,
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].busy != candidates[j].busy {
			return !candidates[i].busy
		}
		if candidates[i].latency != candidates[j].latency {
			return candidates[i].latency < candidates[j].latency
		}
		return candidates[i].id < candidates[j].id
	})

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// Reserve marks a model PROCESSING and starts its reservation deadline
// clock. The caller must Release on every path. An optional deadline
// overrides the Manager's configured default, letting the Router compute
// one from its own admission policy's per-tier timeout.
func (m *Manager) Reserve(id string, deadline ...time.Duration) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.runtime.Routable(m.cfg.FailureThreshold) {
		return qerrors.NoCapacityErr([]string{string(e.descriptor.Tier)})
	}

	d := m.cfg.ReservationDeadline
	if len(deadline) > 0 && deadline[0] > 0 {
		d = deadline[0]
	}

	e.runtime.State = StateProcessing
	e.runtime.RequestCount++
	e.reservedAt = time.Now()
	e.deadline = e.reservedAt.Add(d)
	return nil
}

// Release returns a reserved model to READY.
func (m *Manager) Release(id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtime.State == StateProcessing {
		e.runtime.State = StateReady
	}
	e.reservedAt = time.Time{}
	e.deadline = time.Time{}
	return nil
}

// Metrics returns the current rolling histories for one model.
func (m *Manager) Metrics(id string) (Snapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtime.snapshot(), nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, qerrors.Validation("id", fmt.Sprintf("model %q not registered", id))
	}
	return e, nil
}

func (m *Manager) emitStateChange(id string, newState RuntimeStateKind) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(query.NewEvent(query.EventModelStateChange, "", map[string]interface{}{
		"model_id": id,
		"state":    string(newState),
	}))
	if m.log != nil {
		m.log.LogModelHealth(context.Background(), id, string(newState), 0, nil)
	}
}

// persistLocked rewrites the registry document atomically on admin
// mutation; callers must already hold m.mu.
func (m *Manager) persistLocked(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	doc := RegistryDocument{}
	for _, e := range m.entries {
		doc.Models = append(doc.Models, e.descriptor)
	}
	sort.Slice(doc.Models, func(i, j int) bool { return doc.Models[i].ID < doc.Models[j].ID })

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return m.persist.Save(ctx, "registry", data)
}

// LoadRegistry reads the persisted registry document, returning it without
// mutating the Manager's in-memory state; callers re-register each
// descriptor through Register.
func LoadRegistry(ctx context.Context, persist *state.PersistentState) (RegistryDocument, error) {
	data, err := persist.Load(ctx, "registry")
	if err != nil {
		return RegistryDocument{}, err
	}
	var doc RegistryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return RegistryDocument{}, fmt.Errorf("unmarshal registry: %w", err)
	}
	return doc, nil
}
