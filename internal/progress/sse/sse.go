// Package sse exposes one HTTP surface: a server-sent-events stream of a
// sync job's progress. This is the only REST endpoint this repo owns —
// everything else (auth, tenancy, the rest of the platform's API) is out
// of scope — routed with gorilla/mux to match the teacher's HTTP layer.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/progress"
)

// eventPayload is the wire shape written to the stream; Type discriminates
// "state", "progress", and "done" events. The handler writes no "error"
// event: a failed job arrives as a "progress" event with status "failed",
// followed by "done".
type eventPayload struct {
	Type              string `json:"type"`
	Status            string `json:"status,omitempty"`
	EntitiesProcessed int64  `json:"entities_processed,omitempty"`
	EntitiesFailed    int64  `json:"entities_failed,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Handler streams progress events for a job over SSE.
type Handler struct {
	bus progress.Bus
	log *logging.Logger
}

// NewHandler constructs a Handler backed by bus.
func NewHandler(bus progress.Bus, log *logging.Logger) *Handler {
	return &Handler{bus: bus, log: log}
}

// Register mounts the handler's routes on r, matching the teacher's
// convention of a Register(*mux.Router) method per HTTP component.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/sync-jobs/{job_id}/progress", h.streamProgress).Methods(http.MethodGet)
}

func (h *Handler) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	log := h.log.WithContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe, err := h.bus.Subscribe(r.Context(), jobID)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to job progress")
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, eventPayload{Type: "state", Status: "subscribed"})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case event, ok := <-events:
			if !ok {
				writeEvent(w, flusher, eventPayload{Type: "done"})
				return
			}
			payload := eventPayload{
				Type:              "progress",
				Status:            string(event.Status),
				EntitiesProcessed: event.EntitiesProcessed,
				EntitiesFailed:    event.EntitiesFailed,
				Message:           event.Message,
			}
			writeEvent(w, flusher, payload)
			heartbeat.Reset(30 * time.Second)

			if isTerminal(string(event.Status)) {
				writeEvent(w, flusher, eventPayload{Type: "done", Status: string(event.Status)})
				return
			}
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "cancelled", "failed":
		return true
	default:
		return false
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload eventPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", payload.Type, data)
	flusher.Flush()
}
