package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/cache"
	"github.com/dlorp/synapse-engine-sub002/domain/cgrag"
	"github.com/dlorp/synapse-engine-sub002/domain/complexity"
	"github.com/dlorp/synapse-engine-sub002/domain/coordinator"
	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	"github.com/dlorp/synapse-engine-sub002/domain/router"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

type blockingRetriever struct {
	release chan struct{}
}

func (r blockingRetriever) Retrieve(_ context.Context, _ string, _ int) cgrag.RetrievalResult {
	<-r.release
	return cgrag.RetrievalResult{}
}

type stubRouter struct{}

func (stubRouter) Route(_ context.Context, tier query.Tier) (router.Decision, error) {
	return router.Decision{ModelID: "m1", Tier: tier}, nil
}

func (stubRouter) Reselect(_ context.Context, tier query.Tier, _ string) (router.Decision, error) {
	return router.Decision{ModelID: "m1", Tier: tier}, nil
}

type stubFleet struct{}

func (stubFleet) Reserve(string, ...time.Duration) error { return nil }
func (stubFleet) Release(string) error                   { return nil }

type stubDialogue struct{}

func (stubDialogue) Run(_ context.Context, _ dialogue.Config) (dialogue.Result, error) {
	return dialogue.Result{Completed: true}, nil
}

type stubCache struct{ mu sync.Mutex }

func (c *stubCache) Get(cache.Fingerprint) (cache.Entry, bool)                 { return cache.Entry{}, false }
func (c *stubCache) Put(cache.Fingerprint, string, interface{}, time.Duration) {}

func TestBoundedCoordinatorRejectsBeyondCapacity(t *testing.T) {
	release := make(chan struct{})
	inner := coordinator.New(
		blockingRetriever{release: release},
		complexity.Assess,
		stubRouter{},
		stubFleet{},
		stubDialogue{},
		&stubCache{},
		nil,
		nil,
		coordinator.DefaultAdmissionPolicy(),
	)
	bounded := newBoundedCoordinator(inner, 1)

	req := query.Request{Text: "q", Mode: query.ModeStandard, UseContext: true, MaxTokens: 100}

	done := make(chan error, 1)
	go func() {
		_, err := bounded.Handle(context.Background(), req)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first call occupy the single slot

	_, err := bounded.Handle(context.Background(), req)
	if err == nil {
		t.Fatal("expected the second call to be rejected while the slot is held")
	}
	qerr := qerrors.GetQueryError(err)
	if qerr == nil || qerr.Kind != qerrors.NoCapacity {
		t.Errorf("err = %v, want a NoCapacity QueryError", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first call error = %v, want nil", err)
	}
}
