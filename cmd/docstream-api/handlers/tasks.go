package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/storage"
	"github.com/spherical-ai/docstream/internal/tasks"
)

// TaskHandler handles task creation, listing, and worker feedback.
type TaskHandler struct {
	logger         *observability.Logger
	orchestrator   *tasks.Orchestrator
	maxUploadBytes int64
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(logger *observability.Logger, orchestrator *tasks.Orchestrator, maxUploadBytes int64) *TaskHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 64 << 20
	}
	return &TaskHandler{
		logger:         logger,
		orchestrator:   orchestrator,
		maxUploadBytes: maxUploadBytes,
	}
}

// Create handles POST /tasks: multipart PDF upload.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	filename := tasks.SanitizeFilename(header.Filename)
	if contentType != "application/pdf" && !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "file must be a PDF", "")
		return
	}

	document, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload", err.Error())
		return
	}
	if len(document) == 0 {
		writeError(w, http.StatusBadRequest, "empty file", "")
		return
	}

	task, err := h.orchestrator.Create(r.Context(), filename, document)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Message: "task created",
		Data:    task,
		TaskID:  task.ID.String(),
	})
}

// List handles GET /tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.orchestrator.List(r.Context())
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if list == nil {
		list = []*storage.Task{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "tasks listed",
		Data:    list,
	})
}

// Get handles GET /tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, err := h.orchestrator.Get(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "task found",
		Data:    task,
		TaskID:  task.ID.String(),
	})
}

// progressRequest is a worker progress report.
type progressRequest struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Progress handles POST /tasks/{taskID}/progress.
func (h *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		writeError(w, http.StatusBadRequest, "progress must be within [0,100]", "")
		return
	}

	if err := h.orchestrator.ReportProgress(r.Context(), id, req.Stage, req.Progress, req.Message); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "progress recorded",
		TaskID:  id.String(),
	})
}

// statusRequest is a worker status change report.
type statusRequest struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	ErrorMessage string            `json:"error_message"`
	Results      map[string]string `json:"results"`
}

// Status handles POST /tasks/{taskID}/status.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	err := h.orchestrator.ReportStatusChange(r.Context(), id, tasks.StatusReport{
		Status:       storage.TaskStatus(req.Status),
		Message:      req.Message,
		ErrorMessage: req.ErrorMessage,
		Results:      req.Results,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "status recorded",
		TaskID:  id.String(),
	})
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
