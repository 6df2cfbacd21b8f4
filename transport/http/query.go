package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// handleQuery submits a query.Request to the Coordinator. By default it
// blocks for the single final response; "?stream=true" (or an
// Accept: text/event-stream header) switches to an SSE stream of every
// event the Coordinator publishes for this request, terminated by the
// query-complete or query-failed frame.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if verr := req.Validate(); verr != nil {
		writeError(w, verr)
		return
	}

	wantsStream := r.URL.Query().Get("stream") == "true" || r.Header.Get("Accept") == "text/event-stream"
	if wantsStream && s.bus != nil {
		s.streamQuery(w, r, req)
		return
	}

	resp, err := s.coord.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamQuery assigns the query id up front, subscribes to the Event Bus
// before dispatching to the Coordinator so no early event for this
// request is missed, and relays every event carrying that id as one SSE
// frame until the terminal query-complete/query-failed event.
func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request, req query.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "streaming not supported by this connection"})
		return
	}

	queryID := uuid.New().String()
	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx := query.WithQueryID(r.Context(), queryID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.coord.Handle(ctx, req); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "streamed query failed", map[string]interface{}{"queryId": queryID, "error": err.Error()})
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if e.QueryID != queryID {
				continue
			}
			writeSSEFrame(w, e)
			flusher.Flush()
			if e.Kind == query.EventQueryComplete || e.Kind == query.EventQueryFailed {
				return
			}
		case <-done:
			// The Coordinator finished (possibly before its terminal event
			// reached this subscriber); give the bus one more pass.
			select {
			case e, ok := <-sub.Events():
				if ok {
					writeSSEFrame(w, e)
					flusher.Flush()
				}
			default:
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, e query.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
}
