package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ocr-task-server/internal/config"
	"ocr-task-server/internal/database"
	"ocr-task-server/internal/models"
)

const maxWorkerLineSize = 1024 * 1024

// Publisher receives live progress for a task
type Publisher interface {
	Publish(taskID string, event models.ProgressEvent)
}

// Supervisor owns the lifecycle of one external OCR worker per task
type Supervisor struct {
	worker    config.WorkerConfig
	tasksDir  string
	store     database.StateStore
	publisher Publisher
	rules     ProgressRules
}

// NewSupervisor creates a supervisor that launches workers described by cfg
func NewSupervisor(cfg config.WorkerConfig, tasksDir string, store database.StateStore, publisher Publisher, rules ProgressRules) *Supervisor {
	if rules == nil {
		rules = DefaultProgressRules()
	}
	return &Supervisor{
		worker:    cfg,
		tasksDir:  tasksDir,
		store:     store,
		publisher: publisher,
		rules:     rules,
	}
}

// Run executes the worker for task and returns its terminal state. Every failure,
// including a panic, ends as a persisted Failed state; Run itself never fails.
func (s *Supervisor) Run(ctx context.Context, task *models.Task) (final models.TaskState) {
	progress := 0

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Task %s: supervisor panic: %v", task.ID, r)
			final = s.finalize(ctx, task, s.failedState(task, progress, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	state, err := s.execute(ctx, task, &progress)
	if err != nil {
		log.Printf("[ERROR] Task %s failed: %v", task.ID, err)
		state = s.failedState(task, progress, err.Error())
	}
	return s.finalize(ctx, task, state)
}

// execute prepares, spawns and drains the worker, then classifies its exit
func (s *Supervisor) execute(ctx context.Context, task *models.Task, progress *int) (models.TaskState, error) {
	kind, err := DetectFileType(task.InputPath)
	if err != nil {
		return models.TaskState{}, err
	}
	task.Kind = kind

	command := s.worker.PDFCommand
	if kind == models.FileKindImage {
		command = s.worker.ImageCommand
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return models.TaskState{}, fmt.Errorf("no worker command configured for %s input", kind)
	}

	taskDir := filepath.Join(s.tasksDir, task.ID)
	inv := NewInvocation(task, s.worker.ModelPath, s.worker.DeviceID)
	configPath, err := WriteInvocation(taskDir, inv)
	if err != nil {
		return models.TaskState{}, err
	}

	workerLog, err := os.Create(filepath.Join(taskDir, "worker.log"))
	if err != nil {
		return models.TaskState{}, fmt.Errorf("failed to create worker log: %w", err)
	}
	defer workerLog.Close()

	args := append(parts[1:], "--config", configPath)
	//nolint:gosec // worker commands come from server configuration
	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Env = append(os.Environ(), inv.Env(configPath)...)

	// stdout and stderr share one pipe so lines keep their relative order
	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer

	log.Printf("[TASK] Task %s: starting %s worker: %s (output: %s)", task.ID, kind, command, task.OutputDir)
	if err := cmd.Start(); err != nil {
		writer.Close()
		reader.Close()
		return models.TaskState{}, fmt.Errorf("failed to start OCR worker: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ERROR] Task %s: output reader panic: %v", task.ID, r)
			}
		}()
		s.consumeOutput(ctx, task, reader, workerLog, progress)
	}()

	waitErr := cmd.Wait()
	writer.Close()
	<-drained

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Printf("[TASK] Task %s: worker exited with code %d", task.ID, exitErr.ExitCode())
			return s.failedState(task, *progress, fmt.Sprintf("OCR worker execution failed (exit code %d)", exitErr.ExitCode())), nil
		}
		return models.TaskState{}, fmt.Errorf("OCR worker execution failed: %w", waitErr)
	}

	files, err := ListResultFiles(task.OutputDir)
	if err != nil {
		return models.TaskState{}, err
	}

	log.Printf("[TASK] Task %s finished with %d result file(s)", task.ID, len(files))
	return models.TaskState{
		TaskID:    task.ID,
		Status:    models.TaskStatusFinished,
		ResultDir: task.OutputDir,
		Progress:  *progress,
		Files:     files,
	}, nil
}

// consumeOutput reads worker lines until EOF, persisting and publishing after each one
func (s *Supervisor) consumeOutput(ctx context.Context, task *models.Task, r *io.PipeReader, workerLog io.Writer, progress *int) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxWorkerLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fmt.Fprintln(workerLog, line)
		log.Printf("[WORKER %s] %s", task.ID, line)

		if p, ok := s.rules.Match(line); ok {
			*progress = p
		}

		state := models.TaskState{
			TaskID:    task.ID,
			Status:    models.TaskStatusRunning,
			ResultDir: task.OutputDir,
			Progress:  *progress,
		}
		if err := s.store.Put(ctx, state); err != nil {
			log.Printf("[ERROR] Task %s: failed to persist progress: %v", task.ID, err)
		}
		s.publish(task.ID, models.ProgressEvent{TaskID: task.ID, Progress: *progress})
	}

	if err := scanner.Err(); err != nil {
		log.Printf("[WARN] Task %s: stopped parsing worker output: %v", task.ID, err)
		// keep draining so the worker never blocks on a full pipe
		_, _ = io.Copy(workerLog, r)
	}
}

func (s *Supervisor) failedState(task *models.Task, progress int, message string) models.TaskState {
	return models.TaskState{
		TaskID:    task.ID,
		Status:    models.TaskStatusFailed,
		ResultDir: task.OutputDir,
		Progress:  progress,
		Message:   message,
	}
}

// finalize persists the terminal state once and publishes it
func (s *Supervisor) finalize(ctx context.Context, task *models.Task, state models.TaskState) models.TaskState {
	state.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(context.WithoutCancel(ctx), state); err != nil {
		log.Printf("[ERROR] Task %s: failed to persist final state: %v", task.ID, err)
	}
	s.publish(task.ID, models.FinalEvent(state))
	return state
}

func (s *Supervisor) publish(taskID string, event models.ProgressEvent) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] Task %s: progress publish failed: %v", taskID, r)
		}
	}()
	s.publisher.Publish(taskID, event)
}
