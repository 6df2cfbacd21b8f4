package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

type fakeFleet struct {
	candidates  map[query.Tier][]string
	reserved    map[string]bool
	failReserve map[string]bool
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		candidates:  make(map[query.Tier][]string),
		reserved:    make(map[string]bool),
		failReserve: make(map[string]bool),
	}
}

func (f *fakeFleet) Select(tier query.Tier) []string {
	return f.candidates[tier]
}

func (f *fakeFleet) Reserve(id string, deadline ...time.Duration) error {
	if f.failReserve[id] {
		return errors.New("no capacity")
	}
	f.reserved[id] = true
	return nil
}

func (f *fakeFleet) Release(id string) error {
	delete(f.reserved, id)
	return nil
}

func TestRoutePicksFirstCandidate(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierFAST] = []string{"q2-a", "q2-b"}
	r := New(fleet, DefaultPolicy())

	decision, err := r.Route(context.Background(), query.TierFAST)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.ModelID != "q2-a" || decision.Downgraded {
		t.Errorf("decision = %+v, want q2-a undowngraded", decision)
	}
	if !fleet.reserved["q2-a"] {
		t.Error("expected q2-a to be reserved")
	}
}

func TestRouteDowngradesFastToBalanced(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierBALANCED] = []string{"q3-a"}
	r := New(fleet, DefaultPolicy())

	decision, err := r.Route(context.Background(), query.TierFAST)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.ModelID != "q3-a" || decision.Tier != query.TierBALANCED || !decision.Downgraded {
		t.Errorf("decision = %+v, want downgraded to BALANCED/q3-a", decision)
	}
}

func TestRouteNeverUpgradesToPowerful(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierPOWERFUL] = []string{"q4-a"}
	r := New(fleet, DefaultPolicy())

	_, err := r.Route(context.Background(), query.TierFAST)
	if err == nil {
		t.Fatal("expected no-capacity error; FAST must never silently upgrade to POWERFUL")
	}
}

func TestRouteNoCapacityAnywhere(t *testing.T) {
	fleet := newFakeFleet()
	r := New(fleet, DefaultPolicy())

	_, err := r.Route(context.Background(), query.TierFAST)
	if err == nil {
		t.Fatal("expected no-capacity error")
	}
}

func TestRouteDowngradeDisabled(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierBALANCED] = []string{"q3-a"}
	policy := DefaultPolicy()
	policy.AllowDowngrade = false
	r := New(fleet, policy)

	_, err := r.Route(context.Background(), query.TierFAST)
	if err == nil {
		t.Fatal("expected no-capacity error with downgrade disabled")
	}
}

func TestReselectExcludesFailedInstance(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierFAST] = []string{"q2-a", "q2-b"}
	r := New(fleet, DefaultPolicy())

	decision, err := r.Reselect(context.Background(), query.TierFAST, "q2-a")
	if err != nil {
		t.Fatalf("Reselect() error = %v", err)
	}
	if decision.ModelID != "q2-b" {
		t.Errorf("Reselect() = %+v, want q2-b (q2-a excluded)", decision)
	}
}

func TestReselectNoCapacityWhenOnlyFailedRemains(t *testing.T) {
	fleet := newFakeFleet()
	fleet.candidates[query.TierFAST] = []string{"q2-a"}
	r := New(fleet, DefaultPolicy())

	_, err := r.Reselect(context.Background(), query.TierFAST, "q2-a")
	if err == nil {
		t.Fatal("expected no-capacity error when excluded instance was the only candidate")
	}
}
