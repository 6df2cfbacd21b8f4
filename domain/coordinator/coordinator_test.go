package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/cache"
	"github.com/dlorp/synapse-engine-sub002/domain/cgrag"
	"github.com/dlorp/synapse-engine-sub002/domain/complexity"
	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	"github.com/dlorp/synapse-engine-sub002/domain/router"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

type fakeRetriever struct {
	result cgrag.RetrievalResult
}

func (r fakeRetriever) Retrieve(_ context.Context, _ string, _ int) cgrag.RetrievalResult {
	return r.result
}

type fakeRouter struct {
	decision   router.Decision
	routeErr   error
	reselected router.Decision
}

func (r fakeRouter) Route(_ context.Context, tier query.Tier) (router.Decision, error) {
	if r.routeErr != nil {
		return router.Decision{}, r.routeErr
	}
	d := r.decision
	d.Tier = tier
	return d, nil
}

func (r fakeRouter) Reselect(_ context.Context, tier query.Tier, _ string) (router.Decision, error) {
	d := r.reselected
	d.Tier = tier
	return d, nil
}

type fakeFleet struct {
	reserved map[string]bool
	releases int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{reserved: make(map[string]bool)}
}

func (f *fakeFleet) Reserve(id string, _ ...time.Duration) error {
	f.reserved[id] = true
	return nil
}

func (f *fakeFleet) Release(id string) error {
	f.releases++
	delete(f.reserved, id)
	return nil
}

type fakeDialogueRunner struct {
	result dialogue.Result
	err    error
	// captures the config it was last called with, for assertions
	lastCfg dialogue.Config
}

func (d *fakeDialogueRunner) Run(_ context.Context, cfg dialogue.Config) (dialogue.Result, error) {
	d.lastCfg = cfg
	if d.err != nil {
		return dialogue.Result{}, d.err
	}
	return d.result, nil
}

type fakeCache struct {
	entries map[cache.Fingerprint]cache.Entry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[cache.Fingerprint]cache.Entry)}
}

func (c *fakeCache) Get(fp cache.Fingerprint) (cache.Entry, bool) {
	e, ok := c.entries[fp]
	return e, ok
}

func (c *fakeCache) Put(fp cache.Fingerprint, modelID string, response interface{}, ttl time.Duration) {
	c.entries[fp] = cache.Entry{Response: response, ModelID: modelID, TTL: ttl}
}

func alwaysSimple(string) complexity.Score {
	return complexity.Score{Tier: complexity.Simple, Raw: 0.1}
}

func newTestCoordinator() (*Coordinator, *fakeDialogueRunner, *fakeCache) {
	dlg := &fakeDialogueRunner{result: dialogue.Result{
		Turns:     []dialogue.Turn{{Seq: 0, Persona: dialogue.PersonaAssistant, Content: "answer"}},
		Completed: true,
	}}
	respCache := newFakeCache()
	c := New(
		fakeRetriever{},
		alwaysSimple,
		fakeRouter{decision: router.Decision{ModelID: "fast-1"}, reselected: router.Decision{ModelID: "fast-2"}},
		newFakeFleet(),
		dlg,
		respCache,
		nil,
		nil,
		DefaultAdmissionPolicy(),
	)
	return c, dlg, respCache
}

func TestHandleSimpleRouteProducesResponse(t *testing.T) {
	c, _, _ := newTestCoordinator()

	resp, err := c.Handle(context.Background(), query.Request{
		Text:      "what time is it",
		Mode:      query.ModeStandard,
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.ModelID != "fast-1" {
		t.Errorf("ModelID = %q, want fast-1", resp.ModelID)
	}
	if !resp.Completed || resp.FromCache {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleContextAssistedRoutePassesRetrievedText(t *testing.T) {
	dlg := &fakeDialogueRunner{result: dialogue.Result{Completed: true}}
	respCache := newFakeCache()
	c := New(
		fakeRetriever{result: cgrag.RetrievalResult{
			Artifacts: []cgrag.Artifact{{ChunkID: "c1", Text: "relevant passage"}},
		}},
		alwaysSimple,
		fakeRouter{decision: router.Decision{ModelID: "fast-1"}},
		newFakeFleet(),
		dlg,
		respCache,
		nil,
		nil,
		DefaultAdmissionPolicy(),
	)

	_, err := c.Handle(context.Background(), query.Request{
		Text:       "q",
		Mode:       query.ModeStandard,
		UseContext: true,
		MaxTokens:  500,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if dlg.lastCfg.Context != "relevant passage" {
		t.Errorf("dialogue Context = %q, want %q", dlg.lastCfg.Context, "relevant passage")
	}
}

func TestHandleDebateWithExplicitModelsBypassesRouter(t *testing.T) {
	dlg := &fakeDialogueRunner{result: dialogue.Result{Completed: true}}
	respCache := newFakeCache()
	c := New(
		fakeRetriever{},
		alwaysSimple,
		fakeRouter{routeErr: errors.New("router must not be consulted")},
		newFakeFleet(),
		dlg,
		respCache,
		nil,
		nil,
		DefaultAdmissionPolicy(),
	)

	_, err := c.Handle(context.Background(), query.Request{
		Text:      "should we",
		Mode:      query.ModeDebate,
		Models:    []string{"m1", "m2"},
		MaxTokens: 500,
		Params:    query.ModeParams{MaxTurns: 4},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if dlg.lastCfg.ProModelID != "m1" || dlg.lastCfg.ConModelID != "m2" {
		t.Errorf("lastCfg = %+v, want pro=m1 con=m2", dlg.lastCfg)
	}
}

func TestHandleCouncilWithInterjectionReturnsTranscript(t *testing.T) {
	dlg := &fakeDialogueRunner{result: dialogue.Result{
		Turns: []dialogue.Turn{
			{Seq: 0, Persona: dialogue.PersonaPRO, Content: "a"},
			{Seq: 1, Persona: dialogue.PersonaCON, Content: "b"},
			{Seq: 2, Persona: dialogue.PersonaPRO, Content: "c"},
			{Seq: 3, Persona: dialogue.PersonaCON, Content: "d"},
			{Seq: 4, Persona: dialogue.PersonaModerator, Content: "stay on topic"},
		},
		Completed:         true,
		InterjectionCount: 1,
	}}
	respCache := newFakeCache()
	c := New(
		fakeRetriever{},
		alwaysSimple,
		fakeRouter{},
		newFakeFleet(),
		dlg,
		respCache,
		nil,
		nil,
		DefaultAdmissionPolicy(),
	)

	resp, err := c.Handle(context.Background(), query.Request{
		Text:      "debate topic",
		Mode:      query.ModeCouncil,
		Models:    []string{"m1", "m2"},
		MaxTokens: 500,
		Params:    query.ModeParams{MaxTurns: 4, ModeratorModelID: "mod-1"},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.InterjectionCount != 1 || len(resp.Turns) != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleCapacityRejectionReleasesNothing(t *testing.T) {
	dlg := &fakeDialogueRunner{result: dialogue.Result{Completed: true}}
	respCache := newFakeCache()
	fleet := newFakeFleet()
	c := New(
		fakeRetriever{},
		alwaysSimple,
		fakeRouter{routeErr: qerrors.New(qerrors.NoCapacity, "no model available")},
		fleet,
		dlg,
		respCache,
		nil,
		nil,
		DefaultAdmissionPolicy(),
	)

	_, err := c.Handle(context.Background(), query.Request{
		Text:      "q",
		Mode:      query.ModeStandard,
		MaxTokens: 500,
	})
	if err == nil {
		t.Fatal("expected a capacity error")
	}
	qerr := qerrors.GetQueryError(err)
	if qerr == nil || qerr.Kind != qerrors.NoCapacity {
		t.Errorf("err = %v, want a capacity QueryError", err)
	}
	if fleet.releases != 0 {
		t.Errorf("Release called %d times, want 0 after a capacity rejection", fleet.releases)
	}
}

func TestHandlePrefersContextSuppliedQueryID(t *testing.T) {
	c, _, _ := newTestCoordinator()

	ctx := query.WithQueryID(context.Background(), "caller-assigned-id")
	resp, err := c.Handle(ctx, query.Request{
		Text:      "q",
		Mode:      query.ModeStandard,
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.QueryID != "caller-assigned-id" {
		t.Errorf("QueryID = %q, want caller-assigned-id", resp.QueryID)
	}
}

func TestHandleCacheHitSkipsDialogue(t *testing.T) {
	c, dlg, respCache := newTestCoordinator()

	req := query.Request{Text: "repeat query", Mode: query.ModeStandard, MaxTokens: 500}
	first, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("first Handle() error = %v", err)
	}
	if first.FromCache {
		t.Fatal("first call should not be FromCache")
	}
	if len(respCache.entries) != 1 {
		t.Fatalf("expected one cache entry after first call, got %d", len(respCache.entries))
	}

	dlg.result = dialogue.Result{} // if Run is invoked again this proves it wasn't skipped
	second, err := c.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("second Handle() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second call should be served FromCache")
	}
}
