package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/docstream/internal/artifacts"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/tasks"
)

// DataHandler serves decoded artifact data and file structure listings.
type DataHandler struct {
	logger       *observability.Logger
	orchestrator *tasks.Orchestrator
}

// NewDataHandler creates a new data handler.
func NewDataHandler(logger *observability.Logger, orchestrator *tasks.Orchestrator) *DataHandler {
	return &DataHandler{
		logger:       logger,
		orchestrator: orchestrator,
	}
}

// GetData handles GET /tasks/{taskID}/data?type=odds_path|explanations.
func (h *DataHandler) GetData(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	dataType := r.URL.Query().Get("type")
	if dataType == "" {
		dataType = artifacts.DataTypeOddsPath
	}

	rows, err := h.orchestrator.GetData(r.Context(), id, dataType)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("%s data retrieved", dataType),
		Data:    rows,
		TaskID:  id.String(),
	})
}

// GetAllData handles GET /tasks/{taskID}/data/all.
func (h *DataHandler) GetAllData(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	all, err := h.orchestrator.GetAllData(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "task data retrieved",
		Data:    all,
		TaskID:  id.String(),
	})
}

// Download handles GET /tasks/{taskID}/download?type=... and streams the raw
// parquet artifact as an attachment.
func (h *DataHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	dataType := r.URL.Query().Get("type")
	if dataType == "" {
		dataType = artifacts.DataTypeOddsPath
	}

	filename, data, err := h.orchestrator.DownloadArtifact(r.Context(), id, dataType)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	_, _ = w.Write(data)
}

// Structure handles GET /tasks/{taskID}/structure.
func (h *DataHandler) Structure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	structure, err := h.orchestrator.FileStructure(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "file structure retrieved",
		Data:    structure,
		TaskID:  id.String(),
	})
}

func (h *DataHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
