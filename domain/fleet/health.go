package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

func healthCheckEvent(modelID string, err error) query.Event {
	payload := map[string]interface{}{"model_id": modelID, "ok": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	return query.NewEvent(query.EventHealthCheck, "", payload)
}

// StartHealthLoop launches the background scheduler that triggers health()
// at m.cfg.HealthCheckInterval per model, fanning the calls out
// concurrently (one goroutine per registered model per tick) and fanning
// results back in over a buffered channel before applying them serially to
// each model's RuntimeState — the same fan-out-then-serialize shape used
// for aggregating independent checks, run forever on a ticker instead of
// once per request.
func (m *Manager) StartHealthLoop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancelHealth = cancel

	c := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", m.cfg.HealthCheckInterval)
	_, err := c.AddFunc(spec, func() {
		m.runHealthTick(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule health loop: %w", err)
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

// StopHealthLoop cancels the background scheduler started by
// StartHealthLoop.
func (m *Manager) StopHealthLoop() {
	if m.cancelHealth != nil {
		m.cancelHealth()
	}
}

type healthResult struct {
	id      string
	health  ClientHealth
	err     error
}

func (m *Manager) runHealthTick(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	entries := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		ids = append(ids, id)
		entries[id] = e
	}
	m.mu.RUnlock()

	results := make(chan healthResult, len(ids))
	var wg sync.WaitGroup

	hostVRAM := hostMemoryGigabytes()

	for _, id := range ids {
		e := entries[id]
		e.mu.Lock()
		skip := e.runtime.State == StateOffline || e.runtime.State == StateStopping
		client := e.client
		e.mu.Unlock()
		if skip || client == nil {
			continue
		}

		wg.Add(1)
		go func(id string, client ModelClient) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckInterval)
			defer cancel()
			health, err := client.Health(checkCtx)
			results <- healthResult{id: id, health: health, err: err}
		}(id, client)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		m.applyHealthResult(res, hostVRAM)
	}

	m.releaseExpiredReservations()
}

func (m *Manager) applyHealthResult(res healthResult, hostVRAM float64) {
	m.mu.RLock()
	e, ok := m.entries[res.id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	prevState := e.runtime.State
	vram := res.health.VRAMGigabytes
	if vram == 0 {
		vram = hostVRAM
	}

	if res.err != nil {
		e.runtime.RecordUnhealthy()
		e.runtime.ErrorCount++
		if e.runtime.ConsecutiveFailures >= m.cfg.FailureThreshold && prevState != StateDegraded {
			e.runtime.State = StateDegraded
		}
	} else {
		e.runtime.RecordHealthy(res.health.TokensPerSecond, vram, res.health.LatencyMS)
		if prevState == StateDegraded && e.runtime.ConsecutiveSuccess >= m.cfg.RecoverySuccessCount {
			e.runtime.State = StateReady
		}
	}
	newState := e.runtime.State
	e.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(healthCheckEvent(res.id, res.err))
	}
	if newState != prevState {
		m.emitStateChange(res.id, newState)
	}
}

// releaseExpiredReservations auto-releases models held past their
// reservation deadline, marking them back to READY and leaving a
// diagnostic for operators via the error-count counter.
func (m *Manager) releaseExpiredReservations() {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, e := range m.entries {
		e.mu.Lock()
		if e.runtime.State == StateProcessing && !e.deadline.IsZero() && now.After(e.deadline) {
			e.runtime.State = StateReady
			e.runtime.ErrorCount++
			e.reservedAt = time.Time{}
			e.deadline = time.Time{}
			if m.log != nil {
				m.log.Warn(context.Background(), "reservation deadline exceeded, auto-released", map[string]interface{}{
					"model_id": id,
				})
			}
		}
		e.mu.Unlock()
	}
}

func hostMemoryGigabytes() float64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(v.Used) / (1024 * 1024 * 1024)
}
