package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

// requireAdmin validates a bearer token against the server's JWT secret.
// It is the one piece of auth the control plane carries: admin mutation
// (enable/disable, overrides, restart) is real, everything else is open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "admin API disabled: no signing secret configured"})
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}

		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, qerrors.Validation("alg", "unexpected signing method")
			}
			return s.jwtSecret, nil
		})
		if err != nil || !parsed.Valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	snaps := s.fleet.SnapshotAll()
	out := make([]map[string]interface{}, 0, len(snaps))
	for id, entry := range snaps {
		out = append(out, map[string]interface{}{
			"id":         id,
			"descriptor": entry.Descriptor,
			"runtime":    entry.Runtime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": out})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	descriptor, snap, err := s.fleet.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"descriptor": descriptor, "runtime": snap})
}

// registerModelRequest is the admin registration payload. client is
// intentionally absent: the transport layer never constructs Model
// Clients itself, it only describes the model — cmd/synapsed wires the
// concrete modelclient.Client from the descriptor's port.
type registerModelRequest struct {
	Descriptor fleet.Descriptor `json:"descriptor"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	var client fleet.ModelClient
	if s.newClient != nil {
		client = s.newClient(req.Descriptor)
	}
	if err := s.fleet.Register(r.Context(), req.Descriptor, client); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.Descriptor.ID})
}

func (s *Server) handleUnregisterModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.fleet.Unregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateModelRequest struct {
	Enabled   *bool            `json:"enabled"`
	Overrides *fleet.Overrides `json:"overrides"`
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Enabled != nil {
		if err := s.fleet.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Overrides != nil {
		if err := s.fleet.UpdateOverrides(r.Context(), id, *req.Overrides); err != nil {
			writeError(w, err)
			return
		}
	}
	descriptor, snap, err := s.fleet.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"descriptor": descriptor, "runtime": snap})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.fleet.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.fleet.Stop)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, s.fleet.Restart)
}

func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := action(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}
