package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/docstream/internal/events"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/tasks"
)

// heartbeatInterval keeps intermediaries from closing idle SSE connections.
const heartbeatInterval = 15 * time.Second

// StreamHandler adapts the event bus to the SSE streaming endpoint:
// replay the historical log, then switch to the live feed, then close after
// a terminal event.
type StreamHandler struct {
	logger       *observability.Logger
	orchestrator *tasks.Orchestrator
	bus          *events.Bus
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(logger *observability.Logger, orchestrator *tasks.Orchestrator, bus *events.Bus) *StreamHandler {
	return &StreamHandler{
		logger:       logger.WithComponent("stream"),
		orchestrator: orchestrator,
		bus:          bus,
	}
}

// Events handles GET /tasks/{taskID}/events as a Server-Sent Events stream.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if _, err := h.orchestrator.Get(r.Context(), id); err != nil {
		writeTaskError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	history, sub := h.bus.SubscribeWithHistory(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, evt := range history {
		if err := writeSSE(w, evt); err != nil {
			return
		}
		flusher.Flush()
		if evt.Kind.Terminal() {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-sub.Events():
			if !open {
				if errors.Is(sub.Err(), events.ErrBackpressure) {
					h.logger.Warn().Str("task_id", id.String()).Msg("stream dropped on backpressure")
				}
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
			if evt.Kind.Terminal() {
				return
			}
		}
	}
}

// History handles GET /tasks/{taskID}/events/history.
func (h *StreamHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if _, err := h.orchestrator.Get(r.Context(), id); err != nil {
		writeTaskError(w, err)
		return
	}

	history := h.bus.History(id)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "event history retrieved",
		Data:    history,
		TaskID:  id.String(),
	})
}

func writeSSE(w http.ResponseWriter, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}

func (h *StreamHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
