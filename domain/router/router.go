// Package router implements the Router: picks exactly one Model Client
// per request under admission rules, over a Fleet Manager snapshot.
package router

import (
	"context"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

// FleetView is the narrow subset of *fleet.Manager the Router needs,
// kept here to avoid a hard dependency on the concrete type in tests.
type FleetView interface {
	Select(tier query.Tier) []string
	Reserve(id string, deadline ...time.Duration) error
	Release(id string) error
}

// Policy controls downgrade behavior and per-tier admission timeouts.
type Policy struct {
	AllowDowngrade bool
	PerTierTimeout map[query.Tier]time.Duration
	DefaultTimeout time.Duration
}

// DefaultPolicy allows FAST<->BALANCED downgrade, never a silent upgrade
// to POWERFUL, matching spec.md §4.H's default.
func DefaultPolicy() Policy {
	return Policy{
		AllowDowngrade: true,
		DefaultTimeout: 60 * time.Second,
	}
}

// downgradeTable lists, for each tier, the single adjacent tier a request
// may fall back to when no READY model exists in the requested tier.
// POWERFUL has no downgrade target: the spec forbids silently upgrading
// into it, and there is nothing above it to fall further down from.
var downgradeTable = map[query.Tier]query.Tier{
	query.TierFAST:     query.TierBALANCED,
	query.TierBALANCED: query.TierFAST,
}

// Decision is the Router's output: the reserved model id and the tier it
// was actually routed to (which may differ from the requested tier on
// downgrade).
type Decision struct {
	ModelID    string
	Tier       query.Tier
	Downgraded bool
}

// Router selects and reserves a Model Client per request.
type Router struct {
	fleet  FleetView
	policy Policy
}

// New constructs a Router over a Fleet Manager view.
func New(fleet FleetView, policy Policy) *Router {
	return &Router{fleet: fleet, policy: policy}
}

// Route picks exactly one model for tier, reserving it before returning.
// The caller must Release on every path. On no-capacity in both the
// requested tier and its downgrade target, it returns a NoCapacity error
// naming every tier attempted.
func (r *Router) Route(ctx context.Context, tier query.Tier) (Decision, error) {
	attempted := []query.Tier{tier}

	if decision, ok := r.tryReserve(tier, false); ok {
		return decision, nil
	}

	if r.policy.AllowDowngrade {
		if fallback, ok := downgradeTable[tier]; ok {
			attempted = append(attempted, fallback)
			if decision, ok := r.tryReserve(fallback, true); ok {
				return decision, nil
			}
		}
	}

	return Decision{}, qerrors.NoCapacityErr(tierStrings(attempted))
}

// Reselect performs the single automatic re-selection allowed after a
// ModelTransient error: candidates are recomputed for the same tier
// excluding the failed instance, and reserved if any remain.
func (r *Router) Reselect(ctx context.Context, tier query.Tier, excludeID string) (Decision, error) {
	candidates := r.fleet.Select(tier)
	for _, id := range candidates {
		if id == excludeID {
			continue
		}
		if err := r.fleet.Reserve(id, r.timeoutFor(tier)); err == nil {
			return Decision{ModelID: id, Tier: tier}, nil
		}
	}
	return Decision{}, qerrors.NoCapacityErr([]string{string(tier)})
}

func (r *Router) tryReserve(tier query.Tier, downgraded bool) (Decision, bool) {
	candidates := r.fleet.Select(tier)
	for _, id := range candidates {
		if err := r.fleet.Reserve(id, r.timeoutFor(tier)); err == nil {
			return Decision{ModelID: id, Tier: tier, Downgraded: downgraded}, true
		}
	}
	return Decision{}, false
}

func (r *Router) timeoutFor(tier query.Tier) time.Duration {
	if d, ok := r.policy.PerTierTimeout[tier]; ok && d > 0 {
		return d
	}
	if r.policy.DefaultTimeout > 0 {
		return r.policy.DefaultTimeout
	}
	return 0
}

func tierStrings(tiers []query.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
