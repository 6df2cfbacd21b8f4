// Command synapsed is the S.Y.N.A.P.S.E. control plane process. It owns
// every domain collaborator's concrete handle explicitly — no package-level
// globals — wires them together, and serves the Request/Admin API over
// HTTP and the Event Bus over WebSocket until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/cache"
	"github.com/dlorp/synapse-engine-sub002/domain/cgrag"
	"github.com/dlorp/synapse-engine-sub002/domain/complexity"
	"github.com/dlorp/synapse-engine-sub002/domain/coordinator"
	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	"github.com/dlorp/synapse-engine-sub002/domain/modelclient"
	"github.com/dlorp/synapse-engine-sub002/domain/router"
	transporthttp "github.com/dlorp/synapse-engine-sub002/transport/http"
	"github.com/dlorp/synapse-engine-sub002/transport/ws"

	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/metrics"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/state"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "synapsed: load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("synapsed", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New("synapsed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, logger, m)
	if err != nil {
		logger.Error(ctx, "synapsed: wiring failed", err, nil)
		os.Exit(1)
	}
	defer app.close(ctx)

	if err := app.fleetMgr.StartHealthLoop(ctx); err != nil {
		logger.Error(ctx, "synapsed: failed to start fleet health loop", err, nil)
		os.Exit(1)
	}
	defer app.fleetMgr.StopHealthLoop()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: app.httpSrv}
	wsServer := &http.Server{Addr: cfg.WSAddr, Handler: app.wsHub}

	errCh := make(chan error, 2)
	go func() { errCh <- runServer(httpServer, "http") }()
	go func() { errCh <- runServer(wsServer, "websocket") }()

	logger.Info(ctx, "synapsed started", map[string]interface{}{
		"httpAddr": cfg.HTTPAddr,
		"wsAddr":   cfg.WSAddr,
		"profile":  cfg.Profile,
	})

	select {
	case <-ctx.Done():
		logger.Info(ctx, "synapsed shutting down", nil)
	case err := <-errCh:
		logger.Error(ctx, "server exited unexpectedly", err, nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = wsServer.Shutdown(shutdownCtx)
}

func runServer(srv *http.Server, name string) error {
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("%s server: %w", name, err)
}

// application bundles every long-lived handle the process owns, so main
// has exactly one place to reach for cleanup on shutdown.
type application struct {
	fleetMgr *fleet.Manager
	httpSrv  *transporthttp.Server
	wsHub    *ws.Hub
	persist  *state.PersistentState
}

func (a *application) close(ctx context.Context) {
	if a.persist != nil {
		a.persist.Close(ctx)
	}
}

// wire constructs every domain collaborator from cfg, in dependency order:
// state/logging/metrics first, then the Fleet Manager and its registered
// models, then the stateless domain packages (Router, CGRAG, Cache,
// Complexity), then the Dialogue Engine and Query Coordinator that compose
// them, and finally the two transports.
func wire(ctx context.Context, cfg Config, logger *logging.Logger, m *metrics.Metrics) (*application, error) {
	persist, err := wireState(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("wire state: %w", err)
	}

	bus := eventbus.New(cfg.EventBusQueueSize)
	if _, err := eventbus.NewCoalescer(bus, cfg.TelemetryCoalesceEvery); err != nil {
		return nil, fmt.Errorf("wire telemetry coalescer: %w", err)
	}

	fleetMgr := fleet.New(cfg.fleetConfig(), logger, bus, persist)
	clients := newClientRegistry()
	if err := wireRegistry(ctx, persist, fleetMgr, clients); err != nil {
		return nil, fmt.Errorf("wire model registry: %w", err)
	}

	routerPolicy := router.DefaultPolicy()
	rt := router.New(fleetMgr, routerPolicy)

	vectorStore := cgrag.NewVectorStore(cfg.VectorDimension)
	if err := vectorStore.LoadFromDisk(cfg.VectorIndexPath, cfg.VectorSidecarPath); err != nil {
		logger.Warn(ctx, "no persisted vector index found, starting empty", map[string]interface{}{"error": err.Error()})
	}
	embedder := wireEmbedder(cfg)
	engine := cgrag.NewEngine(vectorStore, embedder, cfg.CGRAGMinRelevance)

	respCache, err := cache.New(cache.Config{ShardSize: cfg.CacheShardSize})
	if err != nil {
		return nil, fmt.Errorf("wire response cache: %w", err)
	}

	assess, err := wireComplexityAssessor(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire complexity assessor: %w", err)
	}

	dialogueEngine := dialogue.New(clients, bus, logger)

	coord := coordinator.New(
		engine,
		assess,
		rt,
		fleetMgr,
		dialogueEngine,
		respCache,
		bus,
		logger,
		cfg.admissionPolicy(),
	)
	bounded := newBoundedCoordinator(coord, cfg.totalWorkers())

	httpSrv := transporthttp.NewServer(bounded, fleetMgr, bus, logger, m, []byte(cfg.JWTSecret), newModelClientFor(clients))
	wsHub := ws.NewHub(bus, logger)

	return &application{fleetMgr: fleetMgr, httpSrv: httpSrv, wsHub: wsHub, persist: persist}, nil
}

func wireState(ctx context.Context, cfg Config) (*state.PersistentState, error) {
	var backend state.PersistenceBackend
	if cfg.StateDSN != "" {
		pg, err := state.NewPostgresBackend(ctx, cfg.StateDSN)
		if err != nil {
			return nil, fmt.Errorf("connect state backend: %w", err)
		}
		backend = pg
	} else {
		backend = state.NewMemoryBackend(5 * time.Minute)
	}
	return state.NewPersistentState(state.Config{
		Backend:   backend,
		KeyPrefix: "synapsed:",
	})
}

// wireRegistry loads the persisted Model Descriptor registry (if any),
// constructs a Model Client for each entry, registers it with the Fleet
// Manager, and starts every descriptor already marked Enabled.
func wireRegistry(ctx context.Context, persist *state.PersistentState, fleetMgr *fleet.Manager, clients *clientRegistry) error {
	doc, err := fleet.LoadRegistry(ctx, persist)
	if errors.Is(err, state.ErrNotFound) {
		return nil // no persisted registry yet; admins register models via the Admin API
	}
	if err != nil {
		return err
	}

	for _, d := range doc.Models {
		client := modelclient.New(d.ID, modelclient.DefaultConfig(fmt.Sprintf("http://localhost:%d", d.Port)))
		clients.register(d.ID, client)
		if err := fleetMgr.Register(ctx, d, client); err != nil {
			return fmt.Errorf("register %s: %w", d.ID, err)
		}
		if d.Enabled {
			if err := fleetMgr.Start(ctx, d.ID); err != nil {
				return fmt.Errorf("start %s: %w", d.ID, err)
			}
		}
	}
	return nil
}

func wireEmbedder(cfg Config) cgrag.Embedder {
	if cfg.EmbedderURL != "" {
		return cgrag.NewHTTPEmbedder(cfg.EmbedderURL, "", cfg.VectorDimension, 5*time.Second)
	}
	return cgrag.NewDeterministicEmbedder(cfg.VectorDimension, 3)
}

// wireComplexityAssessor returns the pure rule-table Assess function when
// the configured expression textually matches the default (the common
// path never touches gval), otherwise an evaluator backed by the
// configured gval expression that falls back to the rule table on a
// runtime evaluation error rather than failing the whole request.
func wireComplexityAssessor(cfg Config) (coordinator.AssessFunc, error) {
	expr, err := complexity.NewExpressionAssessor(cfg.complexityExpression())
	if err != nil {
		return nil, err
	}
	if expr.IsDefault() {
		return complexity.Assess, nil
	}
	return func(text string) complexity.Score {
		score, err := expr.Assess(text)
		if err != nil {
			return complexity.Assess(text)
		}
		return score
	}, nil
}

// newModelClientFor adapts the Admin API's registration path onto the same
// clientRegistry the Dialogue Engine consumes, so a model registered at
// runtime is immediately reachable by both the Fleet Manager's health loop
// and the Dialogue Engine's generation calls.
func newModelClientFor(clients *clientRegistry) func(fleet.Descriptor) fleet.ModelClient {
	return func(d fleet.Descriptor) fleet.ModelClient {
		client := modelclient.New(d.ID, modelclient.DefaultConfig(fmt.Sprintf("http://localhost:%d", d.Port)))
		clients.register(d.ID, client)
		return client
	}
}
