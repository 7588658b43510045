package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ocr-task-server/internal/models"
)

// FileStateStore keeps each task state in its own JSON file, task_<id>.json.
// Records are written to a temp file and renamed into place, so a reader sees
// either the previous or the new record, never a partial one.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates a file-backed state store rooted at dir
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// Put writes the state record for state.TaskID
func (s *FileStateStore) Put(ctx context.Context, state models.TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.statePath(state.TaskID)
	if err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".task_"+state.TaskID+"_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing task state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing task state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing task state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing task state: %w", err)
	}
	return nil
}

// Get reads the state record for taskID
func (s *FileStateStore) Get(ctx context.Context, taskID string) (*models.TaskState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.statePath(taskID)
	if err != nil {
		return nil, ErrTaskNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("reading task state: %w", err)
	}

	var state models.TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if state.TaskID == "" {
		state.TaskID = taskID
	}
	return &state, nil
}

// statePath rejects ids that could escape the state directory
func (s *FileStateStore) statePath(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || strings.Contains(taskID, "..") {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(s.dir, "task_"+taskID+".json"), nil
}
