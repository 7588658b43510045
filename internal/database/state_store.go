package database

import (
	"context"
	"errors"

	"ocr-task-server/internal/models"
)

var (
	// ErrTaskNotFound is returned when no state record exists for a task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrStateCorrupt is returned when a state record exists but cannot be decoded.
	ErrStateCorrupt = errors.New("task state record is corrupt")
)

// StateStore persists one state record per task id.
type StateStore interface {
	// Put overwrites the full record for state.TaskID and returns once it is durable.
	Put(ctx context.Context, state models.TaskState) error
	// Get returns the last persisted record, ErrTaskNotFound or ErrStateCorrupt.
	Get(ctx context.Context, taskID string) (*models.TaskState, error)
}
