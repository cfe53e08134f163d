// Package tasks implements the task lifecycle orchestrator: creation,
// state transitions, event emission, and artifact access for PDF
// processing tasks.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/docstream/internal/artifacts"
	"github.com/spherical-ai/docstream/internal/events"
	"github.com/spherical-ai/docstream/internal/objectstore"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/queue"
	"github.com/spherical-ai/docstream/internal/storage"
)

var (
	// ErrNotFound indicates the task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition indicates a rejected state transition. The record
	// is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTaskNotReady indicates artifact data was requested before the task
	// completed.
	ErrTaskNotReady = errors.New("task not completed")
	// ErrPublishFailure indicates the work message could not be enqueued; the
	// task record has been transitioned to failed.
	ErrPublishFailure = errors.New("work queue publish failed")
	// ErrUnknownDataType indicates an unrecognized artifact data type.
	ErrUnknownDataType = errors.New("unknown data type")
)

// TaskStore is the persistence contract the orchestrator requires.
type TaskStore interface {
	Insert(ctx context.Context, task *storage.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Task, error)
	Update(ctx context.Context, id uuid.UUID, upd storage.TaskUpdate) error
	ListActive(ctx context.Context) ([]*storage.Task, error)
}

// StatusReport carries a worker's status change for a task. Workers deliver
// reports at least once; duplicates of a terminal report are no-ops.
type StatusReport struct {
	Status       storage.TaskStatus
	Message      string
	ErrorMessage string
	// Results maps artifact roles to object keys. Required content for a
	// completed report; missing keys are derived from the task filename.
	Results map[string]string
}

// FileCategory describes one category of a task's file structure.
type FileCategory struct {
	Count int      `json:"count"`
	Files []string `json:"files"`
}

// FileStructure is the per-category file listing for a task.
type FileStructure struct {
	TaskID     string                  `json:"task_id"`
	Structure  map[string]FileCategory `json:"structure"`
	TotalFiles int                     `json:"total_files"`
}

// Orchestrator owns task creation and state transitions and coordinates the
// object store, task store, work queue, and event bus. It is the sole writer
// of task status, timestamps, and error messages.
type Orchestrator struct {
	store     TaskStore
	objects   objectstore.Store
	publisher queue.Publisher
	bus       *events.Bus
	logger    *observability.Logger
	locks     *keyedMutex
}

// New creates an orchestrator.
func New(store TaskStore, objects objectstore.Store, publisher queue.Publisher, bus *events.Bus, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		objects:   objects,
		publisher: publisher,
		bus:       bus,
		logger:    logger.WithComponent("orchestrator"),
		locks:     newKeyedMutex(),
	}
}

// Create stores the uploaded document, creates a pending task record,
// enqueues a processing message, and emits the initial status event. A
// publish failure after the record exists transitions the task to failed so
// no task is ever left pending with no queued work.
func (o *Orchestrator) Create(ctx context.Context, filename string, document []byte) (*storage.Task, error) {
	id := uuid.New()
	pdfKey := objectstore.PDFKey(filename)

	if err := o.objects.Put(ctx, id.String(), pdfKey, document, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	task := &storage.Task{
		ID:          id,
		Filename:    filename,
		Status:      storage.TaskStatusPending,
		StorageRefs: map[string]string{storage.RefRolePDF: pdfKey},
	}
	if err := o.store.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task record: %w", err)
	}

	if err := o.publisher.Publish(ctx, queue.ProcessingMessage{
		TaskID:    id.String(),
		Filename:  filename,
		ObjectKey: pdfKey,
	}); err != nil {
		o.failLocked(ctx, task, fmt.Sprintf("work queue publish failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrPublishFailure, err)
	}

	if _, err := o.bus.Append(ctx, id, events.KindStatus, events.StatusPayload{
		Status:  string(storage.TaskStatusPending),
		Message: "task created",
	}); err != nil {
		o.logger.Warn().Err(err).Str("task_id", id.String()).Msg("append status event failed")
	}

	o.logger.Info().
		Str("task_id", id.String()).
		Str("filename", filename).
		Int("bytes", len(document)).
		Msg("task created")

	return task, nil
}

// ReportProgress appends a progress event for the task without changing its
// status. Reports against terminal tasks are ignored.
func (o *Orchestrator) ReportProgress(ctx context.Context, id uuid.UUID, stage string, percent int, message string) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	task, err := o.get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		o.logger.Debug().Str("task_id", id.String()).Msg("progress report after terminal state ignored")
		return nil
	}

	_, err = o.bus.Append(ctx, id, events.KindProgress, events.ProgressPayload{
		Stage:    stage,
		Progress: percent,
		Message:  message,
	})
	return err
}

// ReportStatusChange applies the task state machine. Valid transitions are
// pending→processing, pending→failed, processing→completed, and
// processing→failed. A duplicate of an already-applied terminal report is a
// no-op; any other transition out of a terminal state returns
// ErrInvalidTransition without mutating the record or appending an event.
func (o *Orchestrator) ReportStatusChange(ctx context.Context, id uuid.UUID, report StatusReport) error {
	if !report.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, report.Status)
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	task, err := o.get(ctx, id)
	if err != nil {
		return err
	}

	if task.Status == report.Status {
		// At-least-once delivery: replayed reports are accepted as no-ops.
		o.logger.Debug().
			Str("task_id", id.String()).
			Str("status", string(report.Status)).
			Msg("duplicate status report ignored")
		return nil
	}

	if !validTransition(task.Status, report.Status) {
		o.logger.Warn().
			Str("task_id", id.String()).
			Str("from", string(task.Status)).
			Str("to", string(report.Status)).
			Msg("rejected status transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, report.Status)
	}

	switch report.Status {
	case storage.TaskStatusProcessing:
		return o.markProcessing(ctx, task, report)
	case storage.TaskStatusCompleted:
		return o.markCompleted(ctx, task, report)
	case storage.TaskStatusFailed:
		return o.markFailed(ctx, task, report)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, report.Status)
}

// Get returns the task record.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	return o.get(ctx, id)
}

// List returns all task records, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*storage.Task, error) {
	return o.store.ListActive(ctx)
}

// GetData decodes the task's result artifact of the given data type into
// structured rows. Only permitted once the task completed.
func (o *Orchestrator) GetData(ctx context.Context, id uuid.UUID, dataType string) (interface{}, error) {
	_, data, err := o.artifact(ctx, id, dataType)
	if err != nil {
		return nil, err
	}
	return artifacts.Decode(dataType, data)
}

// GetAllData returns both artifact payloads, fetched concurrently.
func (o *Orchestrator) GetAllData(ctx context.Context, id uuid.UUID) (map[string]interface{}, error) {
	out := make(map[string]interface{}, 2)
	var (
		g, gctx = errgroup.WithContext(ctx)
		results [2]interface{}
	)
	types := []string{artifacts.DataTypeOddsPath, artifacts.DataTypeExplanations}
	for i, dt := range types {
		g.Go(func() error {
			rows, err := o.GetData(gctx, id, dt)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, dt := range types {
		out[dt] = results[i]
	}
	return out, nil
}

// DownloadArtifact returns the raw artifact bytes and a download filename.
func (o *Orchestrator) DownloadArtifact(ctx context.Context, id uuid.UUID, dataType string) (string, []byte, error) {
	key, data, err := o.artifact(ctx, id, dataType)
	if err != nil {
		return "", nil, err
	}
	return path.Base(key), data, nil
}

// FileStructure lists the task's object-store namespace grouped into
// pdf/result/other categories, merged with the persisted storage refs.
func (o *Orchestrator) FileStructure(ctx context.Context, id uuid.UUID) (*FileStructure, error) {
	task, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}

	keys, err := o.objects.List(ctx, id.String(), "")
	if err != nil {
		return nil, fmt.Errorf("list task objects: %w", err)
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	for _, key := range task.StorageRefs {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	structure := map[string]FileCategory{
		objectstore.CategoryPDFs:     {Files: []string{}},
		objectstore.CategoryParquets: {Files: []string{}},
		objectstore.CategoryOthers:   {Files: []string{}},
	}
	for _, key := range keys {
		cat := objectstore.Category(key)
		entry := structure[cat]
		entry.Files = append(entry.Files, key)
		entry.Count = len(entry.Files)
		structure[cat] = entry
	}

	return &FileStructure{
		TaskID:     id.String(),
		Structure:  structure,
		TotalFiles: len(keys),
	}, nil
}

func (o *Orchestrator) markProcessing(ctx context.Context, task *storage.Task, report StatusReport) error {
	now := time.Now().UTC()
	status := storage.TaskStatusProcessing
	if err := o.store.Update(ctx, task.ID, storage.TaskUpdate{
		Status:              &status,
		ProcessingStartedAt: &now,
	}); err != nil {
		return fmt.Errorf("update task record: %w", err)
	}

	message := report.Message
	if message == "" {
		message = "processing started"
	}
	_, err := o.bus.Append(ctx, task.ID, events.KindStatus, events.StatusPayload{
		Status:  string(status),
		Message: message,
	})
	return err
}

func (o *Orchestrator) markCompleted(ctx context.Context, task *storage.Task, report StatusReport) error {
	refs := make(map[string]string, len(task.StorageRefs)+2)
	for role, key := range task.StorageRefs {
		refs[role] = key
	}
	for role, key := range report.Results {
		refs[role] = key
	}
	// Workers that omit refs still produce deterministically named artifacts.
	if _, ok := refs[storage.RefRoleOddsPath]; !ok {
		refs[storage.RefRoleOddsPath] = objectstore.ParquetKey(artifacts.DataTypeOddsPath, task.Filename)
	}
	if _, ok := refs[storage.RefRoleExplanations]; !ok {
		refs[storage.RefRoleExplanations] = objectstore.ParquetKey(artifacts.DataTypeExplanations, task.Filename)
	}

	now := time.Now().UTC()
	status := storage.TaskStatusCompleted
	if err := o.store.Update(ctx, task.ID, storage.TaskUpdate{
		Status:      &status,
		StorageRefs: refs,
		CompletedAt: &now,
	}); err != nil {
		return fmt.Errorf("update task record: %w", err)
	}

	results := map[string]string{
		storage.RefRoleOddsPath:     refs[storage.RefRoleOddsPath],
		storage.RefRoleExplanations: refs[storage.RefRoleExplanations],
	}
	_, err := o.bus.Append(ctx, task.ID, events.KindCompletion, events.CompletionPayload{
		Results: results,
	})
	if err != nil {
		return err
	}

	o.logger.Info().Str("task_id", task.ID.String()).Msg("task completed")
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, task *storage.Task, report StatusReport) error {
	errMsg := report.ErrorMessage
	if errMsg == "" {
		errMsg = report.Message
	}
	if errMsg == "" {
		errMsg = "processing failed"
	}

	now := time.Now().UTC()
	status := storage.TaskStatusFailed
	if err := o.store.Update(ctx, task.ID, storage.TaskUpdate{
		Status:       &status,
		ErrorMessage: &errMsg,
		CompletedAt:  &now,
	}); err != nil {
		return fmt.Errorf("update task record: %w", err)
	}

	_, err := o.bus.Append(ctx, task.ID, events.KindError, events.ErrorPayload{
		Error:   errMsg,
		Details: report.Message,
	})
	if err != nil {
		return err
	}

	o.logger.Warn().Str("task_id", task.ID.String()).Str("error", errMsg).Msg("task failed")
	return nil
}

// failLocked compensates a creation failure after the record exists. Caller
// holds the task lock.
func (o *Orchestrator) failLocked(ctx context.Context, task *storage.Task, reason string) {
	status := storage.TaskStatusFailed
	now := time.Now().UTC()
	if err := o.store.Update(ctx, task.ID, storage.TaskUpdate{
		Status:       &status,
		ErrorMessage: &reason,
		CompletedAt:  &now,
	}); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID.String()).Msg("compensating transition failed")
		return
	}
	task.Status = status
	task.ErrorMessage = reason

	if _, err := o.bus.Append(ctx, task.ID, events.KindError, events.ErrorPayload{
		Error: reason,
	}); err != nil {
		o.logger.Warn().Err(err).Str("task_id", task.ID.String()).Msg("append error event failed")
	}
}

// artifact gates artifact access on completion and fetches the bytes.
func (o *Orchestrator) artifact(ctx context.Context, id uuid.UUID, dataType string) (string, []byte, error) {
	if !artifacts.ValidDataType(dataType) {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}

	task, err := o.get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if task.Status != storage.TaskStatusCompleted {
		return "", nil, fmt.Errorf("%w: status is %s", ErrTaskNotReady, task.Status)
	}

	key := task.StorageRefs[roleFor(dataType)]
	if key == "" {
		// Fall back to the worker naming convention in the object store.
		prefix := objectstore.CategoryParquets + "/" + dataType + "_"
		keys, err := o.objects.List(ctx, id.String(), prefix)
		if err != nil {
			return "", nil, fmt.Errorf("list artifacts: %w", err)
		}
		if len(keys) == 0 {
			return "", nil, fmt.Errorf("%w: no %s artifact", ErrNotFound, dataType)
		}
		key = keys[0]
	}

	data, err := o.objects.Get(ctx, id.String(), key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: artifact %s", ErrNotFound, key)
	}
	if err != nil {
		return "", nil, fmt.Errorf("fetch artifact: %w", err)
	}
	return key, data, nil
}

func (o *Orchestrator) get(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	task, err := o.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task record: %w", err)
	}
	return task, nil
}

func roleFor(dataType string) string {
	if dataType == artifacts.DataTypeExplanations {
		return storage.RefRoleExplanations
	}
	return storage.RefRoleOddsPath
}

func validTransition(from, to storage.TaskStatus) bool {
	switch from {
	case storage.TaskStatusPending:
		return to == storage.TaskStatusProcessing || to == storage.TaskStatusFailed
	case storage.TaskStatusProcessing:
		return to == storage.TaskStatusCompleted || to == storage.TaskStatusFailed
	}
	return false
}

// SanitizeFilename strips any path components from an uploaded filename.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.pdf"
	}
	return name
}
