package main

import (
	"context"

	"github.com/dlorp/synapse-engine-sub002/domain/coordinator"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

// boundedCoordinator bounds total in-flight Coordinator.Handle calls with a
// fixed-size semaphore, giving the "admission control is the pressure
// valve, never unbounded queuing" rule a top-level enforcement point in
// addition to the Router's own per-tier admission. A full semaphore
// rejects immediately with NoCapacity rather than queuing the caller
// indefinitely.
type boundedCoordinator struct {
	inner *coordinator.Coordinator
	sem   chan struct{}
}

func newBoundedCoordinator(inner *coordinator.Coordinator, workers int) *boundedCoordinator {
	if workers <= 0 {
		workers = 1
	}
	return &boundedCoordinator{inner: inner, sem: make(chan struct{}, workers)}
}

func (b *boundedCoordinator) Handle(ctx context.Context, req query.Request) (coordinator.Response, error) {
	select {
	case b.sem <- struct{}{}:
	default:
		return coordinator.Response{}, qerrors.New(qerrors.NoCapacity, "admission control: in-flight query limit reached")
	}
	defer func() { <-b.sem }()

	return b.inner.Handle(ctx, req)
}
