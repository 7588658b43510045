package services

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"ocr-task-server/internal/models"
)

// ResultArchiver mirrors the files of finished tasks into a storage backend
type ResultArchiver struct {
	storage StorageInterface
}

// NewResultArchiver creates an archiver writing to storage
func NewResultArchiver(storage StorageInterface) *ResultArchiver {
	return &ResultArchiver{storage: storage}
}

// TaskCompleted uploads every result file; failures are logged only
func (a *ResultArchiver) TaskCompleted(ctx context.Context, task *models.Task, state models.TaskState, _ time.Duration) {
	if state.Status != models.TaskStatusFinished {
		return
	}

	uploaded := 0
	for _, rel := range state.Files {
		if err := a.archiveFile(ctx, task.ID, state.ResultDir, rel); err != nil {
			log.Printf("[WARN] Task %s: failed to archive %s: %v", task.ID, rel, err)
			continue
		}
		uploaded++
	}
	log.Printf("[TASK] Task %s: archived %d/%d result file(s)", task.ID, uploaded, len(state.Files))
}

func (a *ResultArchiver) archiveFile(ctx context.Context, taskID, resultDir, rel string) error {
	file, err := os.Open(filepath.Join(resultDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer file.Close()

	key, err := a.storage.UploadResult(ctx, taskID, rel, file, contentTypeFor(rel))
	if err != nil {
		return err
	}
	log.Printf("[TASK] Task %s: archived %s -> %s", taskID, rel, a.storage.GetFileURL(key))
	return nil
}

// MetricsRecorder persists one measurement per finalized task
type MetricsRecorder interface {
	RecordTask(ctx context.Context, task *models.Task, state models.TaskState, duration time.Duration) error
}

// MetricsObserver forwards finalized tasks to a MetricsRecorder
type MetricsObserver struct {
	recorder MetricsRecorder
}

// NewMetricsObserver wraps recorder as a task observer
func NewMetricsObserver(recorder MetricsRecorder) *MetricsObserver {
	return &MetricsObserver{recorder: recorder}
}

// TaskCompleted records the task outcome; a write failure is logged only
func (m *MetricsObserver) TaskCompleted(ctx context.Context, task *models.Task, state models.TaskState, duration time.Duration) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.recorder.RecordTask(writeCtx, task, state, duration); err != nil {
		log.Printf("[WARN] Task %s: failed to record metrics: %v", task.ID, err)
	}
}
