// Package storage provides the task record model and repository for docstream.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a processing task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Storage ref roles. Keys of Task.StorageRefs.
const (
	RefRolePDF          = "pdf"
	RefRoleOddsPath     = "odds_path_parquet"
	RefRoleExplanations = "explanations_parquet"
)

// Task is one document-processing request and its tracked lifecycle.
type Task struct {
	ID                  uuid.UUID         `json:"id" db:"id"`
	Filename            string            `json:"filename" db:"filename"`
	Status              TaskStatus        `json:"status" db:"status"`
	StorageRefs         map[string]string `json:"storage_refs" db:"storage_refs"`
	ErrorMessage        string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at,omitempty" db:"processing_started_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// TaskUpdate carries the fields a single update may touch. Nil fields are
// left unchanged; UpdatedAt is always refreshed by the repository.
type TaskUpdate struct {
	Status              *TaskStatus
	StorageRefs         map[string]string
	ErrorMessage        *string
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
}
