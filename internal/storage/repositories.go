package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Schema is the task table DDL. Compatible with both sqlite and postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	storage_refs TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	processing_started_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);
`

// EnsureSchema creates the task table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TaskRepository handles task record persistence.
type TaskRepository struct {
	db DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Insert creates a new task record.
func (r *TaskRepository) Insert(ctx context.Context, task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	refs, err := marshalRefs(task.StorageRefs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, filename, status, storage_refs, error_message,
			created_at, updated_at, processing_started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		task.ID.String(), task.Filename, string(task.Status), refs, task.ErrorMessage,
		task.CreatedAt, task.UpdatedAt, task.ProcessingStartedAt, task.CompletedAt,
	)
	return err
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	query := `
		SELECT id, filename, status, storage_refs, error_message,
			created_at, updated_at, processing_started_at, completed_at
		FROM tasks WHERE id = $1
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// Update applies a partial update to a task record. UpdatedAt is always
// refreshed. Returns ErrNotFound when no record matches.
func (r *TaskRepository) Update(ctx context.Context, id uuid.UUID, upd TaskUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.StorageRefs != nil {
		refs, err := marshalRefs(upd.StorageRefs)
		if err != nil {
			return err
		}
		add("storage_refs", refs)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.ProcessingStartedAt != nil {
		add("processing_started_at", *upd.ProcessingStartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	query := "UPDATE tasks SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, id.String())

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive lists all task records, newest first.
func (r *TaskRepository) ListActive(ctx context.Context) ([]*Task, error) {
	query := `
		SELECT id, filename, status, storage_refs, error_message,
			created_at, updated_at, processing_started_at, completed_at
		FROM tasks
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		idStr     string
		statusStr string
		refs      []byte
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&idStr, &task.Filename, &statusStr, &refs, &task.ErrorMessage,
		&task.CreatedAt, &task.UpdatedAt, &started, &completed,
	)
	if err != nil {
		return nil, err
	}

	task.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	task.Status = TaskStatus(statusStr)

	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &task.StorageRefs); err != nil {
			return nil, fmt.Errorf("parse storage refs: %w", err)
		}
	}
	if task.StorageRefs == nil {
		task.StorageRefs = map[string]string{}
	}
	if started.Valid {
		task.ProcessingStartedAt = &started.Time
	}
	if completed.Valid {
		task.CompletedAt = &completed.Time
	}
	return &task, nil
}

func marshalRefs(refs map[string]string) ([]byte, error) {
	if refs == nil {
		refs = map[string]string{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("marshal storage refs: %w", err)
	}
	return data, nil
}
