// Package coordinator implements the Query Coordinator: the per-request
// top-level composer tying validation, caching, retrieval, complexity
// assessment, routing, and dialogue dispatch into one flow, and the sole
// component that converts an internal error kind into a terminal event.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dlorp/synapse-engine-sub002/domain/cache"
	"github.com/dlorp/synapse-engine-sub002/domain/cgrag"
	"github.com/dlorp/synapse-engine-sub002/domain/complexity"
	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	"github.com/dlorp/synapse-engine-sub002/domain/router"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
)

// Retriever is the narrow CGRAG surface the Coordinator needs.
type Retriever interface {
	Retrieve(ctx context.Context, text string, tokenBudget int) cgrag.RetrievalResult
}

// Router is the narrow Router surface the Coordinator needs.
type Router interface {
	Route(ctx context.Context, tier query.Tier) (router.Decision, error)
	Reselect(ctx context.Context, tier query.Tier, excludeID string) (router.Decision, error)
}

// Fleet is the narrow reservation surface the Coordinator needs: most
// requests reserve through the Router, but a request naming explicit
// participant models (debate/council's "models" field) reserves them
// directly by id.
type Fleet interface {
	Reserve(id string, deadline ...time.Duration) error
	Release(id string) error
}

// ResponseCache is the narrow Response Cache surface the Coordinator needs.
type ResponseCache interface {
	Get(fp cache.Fingerprint) (cache.Entry, bool)
	Put(fp cache.Fingerprint, modelID string, response interface{}, ttl time.Duration)
}

// DialogueRunner is the narrow Dialogue Engine surface the Coordinator needs.
type DialogueRunner interface {
	Run(ctx context.Context, cfg dialogue.Config) (dialogue.Result, error)
}

// AssessFunc scores a query's complexity; swappable for the gval-backed
// expression assessor without changing the Coordinator's shape.
type AssessFunc func(text string) complexity.Score

// Coordinator is the per-request composer. It holds no in-flight state of
// its own between calls to Handle: every field is a shared collaborator.
type Coordinator struct {
	retriever Retriever
	assess    AssessFunc
	router    Router
	fleet     Fleet
	dialogue  DialogueRunner
	cache     ResponseCache
	bus       *eventbus.Bus
	logger    *logging.Logger
	policy    AdmissionPolicy
}

// New constructs a Coordinator over its collaborators. assess defaults to
// complexity.Assess (the pure rule-table scorer) when nil.
func New(
	retriever Retriever,
	assess AssessFunc,
	r Router,
	fleet Fleet,
	dlg DialogueRunner,
	respCache ResponseCache,
	bus *eventbus.Bus,
	logger *logging.Logger,
	policy AdmissionPolicy,
) *Coordinator {
	if assess == nil {
		assess = complexity.Assess
	}
	return &Coordinator{
		retriever: retriever,
		assess:    assess,
		router:    r,
		fleet:     fleet,
		dialogue:  dlg,
		cache:     respCache,
		bus:       bus,
		logger:    logger,
		policy:    policy,
	}
}

// Handle drives one request through the full flow, emitting the events
// enumerated in the dialogue/query contract along the way. The returned
// error, when non-nil, is always a *qerrors.QueryError classifying the
// terminal failure; Handle itself guarantees exactly one of query-complete
// or query-failed is published per call.
func (c *Coordinator) Handle(ctx context.Context, req query.Request) (Response, error) {
	queryID := query.GetQueryID(ctx)
	if queryID == "" {
		queryID = uuid.New().String()
	}
	if verr := req.Validate(); verr != nil {
		return c.fail(queryID, verr)
	}
	ctx, cancel := context.WithTimeout(ctx, c.policy.overallTimeout())
	defer cancel()

	c.publish(queryID, query.EventQueryReceived, map[string]interface{}{
		"mode": string(req.Mode),
	})

	retrieval, score := c.gatherContextAndComplexity(ctx, queryID, req)

	tier := req.TierOverride
	if tier == "" || tier == query.TierUNKNOWN {
		tier = score.Tier.RouteTier()
	}

	fp := cache.Compute(cache.FingerprintInputs{
		NormalizedQuery:    req.Text,
		Mode:               string(req.Mode),
		Tier:               string(tier),
		ContextFingerprint: retrieval.ContextFingerprint(),
		TemperatureBucket:  cache.TemperatureBucket(req.Temperature),
		MaxTokens:          req.MaxTokens,
	})

	if entry, ok := c.cache.Get(fp); ok {
		c.publish(queryID, query.EventCacheHit, map[string]interface{}{"fingerprint": fp.String()})
		if resp, ok := entry.Response.(Response); ok {
			resp.FromCache = true
			c.publish(queryID, query.EventQueryComplete, map[string]interface{}{
				"completed": resp.Completed,
				"fromCache": true,
			})
			return resp, nil
		}
	}
	c.publish(queryID, query.EventCacheMiss, map[string]interface{}{"fingerprint": fp.String()})

	isDebate := req.Mode == query.ModeDebate || req.Mode == query.ModeCouncil

	decision, reserved, err := c.selectModels(ctx, req, tier, isDebate)
	if err != nil {
		return c.fail(queryID, err)
	}
	c.publish(queryID, query.EventRouteDecided, map[string]interface{}{
		"modelId":    decision.ModelID,
		"tier":       string(decision.Tier),
		"downgraded": decision.Downgraded,
	})
	defer func() { c.releaseAll(reserved) }()

	dcfg := dialogue.Config{
		Mode:        req.Mode,
		QueryID:     queryID,
		QueryText:   req.Text,
		Context:     contextText(retrieval),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ModelID:     decision.ModelID,

		MaxTurns:                req.Params.MaxTurns,
		ModeratorCheckFrequency: req.Params.ModeratorCheckFrequency,
		ModeratorModelID:        req.Params.ModeratorModelID,
	}

	if isDebate {
		var conID string
		if len(reserved) >= 2 {
			conID = reserved[1]
		} else {
			second, err := c.router.Reselect(ctx, decision.Tier, decision.ModelID)
			if err != nil {
				return c.fail(queryID, err)
			}
			reserved = append(reserved, second.ModelID)
			conID = second.ModelID
		}
		dcfg.ProModelID = decision.ModelID
		dcfg.ConModelID = conID
		dcfg.ModelID = ""
	}

	dctx, dcancel := context.WithTimeout(ctx, c.policy.dialogueTimeout())
	result, err := c.dialogue.Run(dctx, dcfg)
	dcancel()
	if err != nil && !isDebate && qerrors.KindOf(err) == qerrors.ModelTransient {
		// One automatic re-selection within the same tier, never more.
		if second, rerr := c.router.Reselect(ctx, decision.Tier, decision.ModelID); rerr == nil {
			reserved = append(reserved, second.ModelID)
			decision.ModelID = second.ModelID
			dcfg.ModelID = second.ModelID
			dctx, dcancel = context.WithTimeout(ctx, c.policy.dialogueTimeout())
			result, err = c.dialogue.Run(dctx, dcfg)
			dcancel()
		}
	}
	if err != nil {
		return c.fail(queryID, err)
	}

	resp := Response{
		QueryID:           queryID,
		Tier:              decision.Tier,
		ModelID:           decision.ModelID,
		Turns:             result.Turns,
		Completed:         result.Completed,
		InterjectionCount: result.InterjectionCount,
		Analysis:          result.Analysis,
	}

	if result.Completed {
		c.cache.Put(fp, decision.ModelID, resp, c.policy.cacheTTL())
	}

	c.publish(queryID, query.EventQueryComplete, map[string]interface{}{
		"completed": result.Completed,
	})
	return resp, nil
}

// gatherContextAndComplexity runs CGRAG retrieval (when requested) and
// complexity assessment concurrently via errgroup, since assessment never
// depends on retrieved context; both join before routing.
func (c *Coordinator) gatherContextAndComplexity(ctx context.Context, queryID string, req query.Request) (cgrag.RetrievalResult, complexity.Score) {
	var retrieval cgrag.RetrievalResult
	var score complexity.Score

	g, gctx := errgroup.WithContext(ctx)
	if req.UseContext {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, c.policy.retrievalTimeout())
			defer cancel()
			retrieval = c.retriever.Retrieve(rctx, req.Text, c.policy.tokenBudget(req.MaxTokens))
			return nil
		})
	}
	g.Go(func() error {
		score = c.assess(req.Text)
		return nil
	})
	_ = g.Wait() // neither goroutine returns a non-nil error; retrieval failure is carried in the result, not an error

	if req.UseContext {
		c.publish(queryID, query.EventRetrievalComplete, map[string]interface{}{
			"artifacts":   len(retrieval.Artifacts),
			"tokensUsed":  retrieval.TokensUsed,
			"unavailable": retrieval.Unavailable,
		})
	}
	c.publish(queryID, query.EventComplexityAssessed, map[string]interface{}{
		"tier": string(score.Tier),
		"raw":  score.Raw,
	})

	return retrieval, score
}

// selectModels resolves the participant model id(s) for a request. A request
// naming explicit models (debate/council's "models" field) reserves them
// directly through the Fleet, bypassing the Router entirely; all other
// requests go through the Router's own scoring and reservation. On a
// partial reservation failure, anything already reserved is released before
// returning the error.
func (c *Coordinator) selectModels(ctx context.Context, req query.Request, tier query.Tier, isDebate bool) (router.Decision, []string, error) {
	need := 1
	if isDebate {
		need = 2
	}

	if len(req.Models) >= need {
		ids := req.Models[:need]
		reserved := make([]string, 0, need)
		for _, id := range ids {
			if err := c.fleet.Reserve(id); err != nil {
				c.releaseAll(reserved)
				return router.Decision{}, nil, err
			}
			reserved = append(reserved, id)
		}
		return router.Decision{ModelID: reserved[0], Tier: tier}, reserved, nil
	}

	decision, err := c.router.Route(ctx, tier)
	if err != nil {
		return router.Decision{}, nil, err
	}
	return decision, []string{decision.ModelID}, nil
}

func (c *Coordinator) releaseAll(ids []string) {
	for _, id := range ids {
		if err := c.fleet.Release(id); err != nil && c.logger != nil {
			c.logger.Warn(context.Background(), "failed to release reservation", map[string]interface{}{
				"model_id": id,
				"error":    err.Error(),
			})
		}
	}
}

func (c *Coordinator) fail(queryID string, err error) (Response, error) {
	qerr := qerrors.GetQueryError(err)
	if qerr == nil {
		qerr = qerrors.Wrap(qerrors.InternalInvariant, "unclassified failure", err)
		err = qerr
	}
	details := map[string]interface{}{"error": err.Error(), "kind": string(qerr.Kind)}
	c.publish(queryID, query.EventQueryFailed, details)
	return Response{}, err
}

func (c *Coordinator) publish(queryID string, kind query.EventKind, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(query.NewEvent(kind, queryID, payload))
}

// contextText flattens a RetrievalResult's artifacts into the plain-text
// block the Dialogue Engine inserts into turn-1 prompts.
func contextText(r cgrag.RetrievalResult) string {
	if len(r.Artifacts) == 0 {
		return ""
	}
	var parts []string
	for _, a := range r.Artifacts {
		parts = append(parts, a.Text)
	}
	return strings.Join(parts, "\n\n")
}
