// Package http implements the Request API and Admin API as real HTTP
// handlers: routing, request decoding (accepting both field-alias forms),
// response encoding, and admin-mutation auth. No business logic lives
// here — every handler is a thin adapter onto domain/coordinator and
// domain/fleet.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dlorp/synapse-engine-sub002/domain/coordinator"
	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/metrics"
)

// Coordinator is the narrow Query Coordinator surface the HTTP transport
// needs.
type Coordinator interface {
	Handle(ctx context.Context, req query.Request) (coordinator.Response, error)
}

// FleetAdmin is the narrow Fleet Manager admin surface the /v1/models
// handlers drive.
type FleetAdmin interface {
	Register(ctx context.Context, d fleet.Descriptor, client fleet.ModelClient) error
	Unregister(ctx context.Context, id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	UpdateOverrides(ctx context.Context, id string, overrides fleet.Overrides) error
	Snapshot(id string) (fleet.Descriptor, fleet.Snapshot, error)
	SnapshotAll() map[string]struct {
		Descriptor fleet.Descriptor
		Runtime    fleet.Snapshot
	}
}

// Server wires the Request API and Admin API onto a chi.Mux.
type Server struct {
	router    chi.Router
	coord     Coordinator
	fleet     FleetAdmin
	logger    *logging.Logger
	metrics   *metrics.Metrics
	jwtSecret []byte
	newClient func(fleet.Descriptor) fleet.ModelClient
	bus       *eventbus.Bus
}

// NewServer constructs the HTTP transport. jwtSecret gates every admin
// mutation endpoint; a nil/empty secret disables the admin API entirely
// (every admin route responds 503), since an unauthenticated mutation
// surface is worse than none. newClient builds the live Model Client a
// newly-registered descriptor needs for the Fleet Manager's health loop;
// it may be nil in tests that never exercise registration. bus enables
// streaming responses on POST /v1/query (?stream=true); nil forces
// single-response mode for every request.
func NewServer(coord Coordinator, fleetAdmin FleetAdmin, bus *eventbus.Bus, logger *logging.Logger, m *metrics.Metrics, jwtSecret []byte, newClient func(fleet.Descriptor) fleet.ModelClient) *Server {
	s := &Server{
		coord:     coord,
		fleet:     fleetAdmin,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		jwtSecret: jwtSecret,
		newClient: newClient,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrumentRequest)

	r.Post("/v1/query", s.handleQuery)

	r.Route("/v1/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Get("/{id}", s.handleGetModel)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleRegisterModel)
			r.Delete("/{id}", s.handleUnregisterModel)
			r.Patch("/{id}", s.handleUpdateModel)
			r.Post("/{id}/start", s.handleStart)
			r.Post("/{id}/stop", s.handleStop)
			r.Post("/{id}/restart", s.handleRestart)
		})
	})

	return r
}

// instrumentRequest records every request's latency and status into
// infrastructure/metrics under the service's standard HTTP histogram.
func (s *Server) instrumentRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.RecordHTTPRequest("synapsed", r.Method, r.URL.Path, http.StatusText(ww.Status()), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its HTTP status equivalent via
// infrastructure/errors.HTTPStatus, preserving the teacher's
// code-to-status mapping idiom.
func writeError(w http.ResponseWriter, err error) {
	qerr := qerrors.GetQueryError(err)
	status := qerrors.HTTPStatus(err)
	body := map[string]interface{}{"error": err.Error()}
	if qerr != nil {
		body["kind"] = string(qerr.Kind)
		if qerr.Details != nil {
			body["details"] = qerr.Details
		}
	}
	writeJSON(w, status, body)
}
