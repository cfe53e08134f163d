// Package handlers provides HTTP handlers for the docstream API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical-ai/docstream/internal/tasks"
)

// envelope is the common response wrapper, matching the shape streaming
// clients already consume.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	TaskID  string      `json:"task_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, envelope{
		Success: false,
		Message: message,
		Error:   detail,
	})
}

// writeTaskError maps orchestrator errors to HTTP statuses.
func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found", err.Error())
	case errors.Is(err, tasks.ErrTaskNotReady):
		writeError(w, http.StatusConflict, "task not ready", err.Error())
	case errors.Is(err, tasks.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid transition", err.Error())
	case errors.Is(err, tasks.ErrUnknownDataType):
		writeError(w, http.StatusBadRequest, "unknown data type", err.Error())
	case errors.Is(err, tasks.ErrPublishFailure):
		writeError(w, http.StatusBadGateway, "processing could not be enqueued", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
