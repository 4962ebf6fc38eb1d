package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
)

const sseHeartbeatInterval = 15 * time.Second

// streamEvents implements GET /events: a server-sent-events feed of every
// resource change, optionally narrowed with ?resource_type=.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	filter := eventbus.ByResourceType(r.URL.Query().Get("resource_type"))
	s.streamFiltered(w, r, filter)
}

// streamResourceEvents implements GET /resources/{id}/events: events for a
// single resource only.
func (s *Server) streamResourceEvents(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrorTypeValidation, "id must be an integer"))
		return
	}
	s.streamFiltered(w, r, eventbus.ByResourceID(id))
}

func (s *Server) streamFiltered(w http.ResponseWriter, r *http.Request, filter eventbus.Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.New(apperrors.ErrorTypeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subID, events := s.bus.Subscribe(filter)
	defer s.bus.Unsubscribe(subID)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(ev.ResourceData)
			if err != nil {
				s.log.Error(err, "marshal event for SSE", "resource_id", ev.ResourceID)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
