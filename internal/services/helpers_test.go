package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ocr-task-server/internal/config"
	"ocr-task-server/internal/database"
	"ocr-task-server/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]models.ProgressEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]models.ProgressEvent)}
}

func (p *recordingPublisher) Publish(taskID string, event models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[taskID] = append(p.events[taskID], event)
}

func (p *recordingPublisher) For(taskID string) []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProgressEvent(nil), p.events[taskID]...)
}

// writeWorkerScript writes a shell script acting as the OCR worker and
// returns the command line that runs it
func writeWorkerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return "/bin/sh " + path
}

func workerConfig(command string) config.WorkerConfig {
	return config.WorkerConfig{
		ModelPath:      "/models/deepseek-ocr",
		DeviceID:       "0",
		PDFCommand:     command,
		ImageCommand:   command,
		MaxConcurrency: 4,
	}
}

type supervisorFixture struct {
	root       string
	store      *database.FileStateStore
	publisher  *recordingPublisher
	supervisor *Supervisor
}

func newSupervisorFixture(t *testing.T, command string) *supervisorFixture {
	t.Helper()
	root := t.TempDir()
	store, err := database.NewFileStateStore(filepath.Join(root, "logs"))
	require.NoError(t, err)
	publisher := newRecordingPublisher()

	return &supervisorFixture{
		root:       root,
		store:      store,
		publisher:  publisher,
		supervisor: NewSupervisor(workerConfig(command), filepath.Join(root, "tasks"), store, publisher, nil),
	}
}

// newTask creates an input document and an output directory for a fresh task
func (f *supervisorFixture) newTask(t *testing.T, inputName string) *models.Task {
	t.Helper()
	id := uuid.NewString()

	input := filepath.Join(f.root, id+"_"+inputName)
	require.NoError(t, os.WriteFile(input, []byte("document"), 0644))

	output := filepath.Join(f.root, "results", "ocr_task_"+id)
	require.NoError(t, os.MkdirAll(output, 0755))

	kind, _ := DetectFileType(inputName)
	return &models.Task{
		ID:        id,
		InputPath: input,
		Prompt:    models.DefaultPrompt,
		Kind:      kind,
		OutputDir: output,
		Status:    models.TaskStatusRunning,
	}
}

func progressValues(events []models.ProgressEvent) []int {
	values := make([]int, 0, len(events))
	for _, e := range events {
		values = append(values, e.Progress)
	}
	return values
}
