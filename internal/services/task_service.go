package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ocr-task-server/internal/database"
	"ocr-task-server/internal/models"

	"github.com/google/uuid"
)

// ErrInputNotFound is returned when the document to process does not exist
var ErrInputNotFound = errors.New("input file not found")

// TaskRunner executes one task to a terminal state
type TaskRunner interface {
	Run(ctx context.Context, task *models.Task) models.TaskState
}

// TaskObserver is told about every task that reached a terminal state
type TaskObserver interface {
	TaskCompleted(ctx context.Context, task *models.Task, state models.TaskState, duration time.Duration)
}

// TaskService starts OCR tasks asynchronously and answers state queries
type TaskService struct {
	store     database.StateStore
	files     *FileService
	runner    TaskRunner
	observers []TaskObserver
	baseCtx   context.Context

	// sem bounds the number of workers running at once; nil means unbounded
	sem chan struct{}
	wg  sync.WaitGroup

	mutex  sync.RWMutex
	active map[string]*models.Task
}

// NewTaskService creates a new task service. maxConcurrency <= 0 disables the limit.
func NewTaskService(store database.StateStore, files *FileService, runner TaskRunner, maxConcurrency int, observers ...TaskObserver) *TaskService {
	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}
	return &TaskService{
		store:     store,
		files:     files,
		runner:    runner,
		observers: observers,
		baseCtx:   context.Background(),
		sem:       sem,
		active:    make(map[string]*models.Task),
	}
}

// Start validates the input, creates the task and schedules its worker.
// It returns as soon as the initial state is persisted.
func (s *TaskService) Start(ctx context.Context, inputPath, prompt string) (*models.Task, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, ErrInputNotFound
	}
	info, err := os.Stat(inputPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
	}
	kind, err := DetectFileType(inputPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = models.DefaultPrompt
	}
	if abs, err := filepath.Abs(inputPath); err == nil {
		inputPath = abs
	}

	taskID := uuid.NewString()
	outputDir, err := s.files.CreateResultDir("ocr_task_" + taskID)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}

	task := &models.Task{
		ID:        taskID,
		InputPath: inputPath,
		Prompt:    prompt,
		Kind:      kind,
		OutputDir: outputDir,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
	}

	initial := models.TaskState{
		TaskID:    taskID,
		Status:    models.TaskStatusRunning,
		ResultDir: outputDir,
		Progress:  0,
	}
	if err := s.store.Put(ctx, initial); err != nil {
		return nil, fmt.Errorf("failed to persist initial task state: %w", err)
	}
	task.Status = models.TaskStatusRunning

	s.mutex.Lock()
	s.active[taskID] = task
	s.mutex.Unlock()

	s.wg.Add(1)
	go s.run(task)

	log.Printf("[TASK] Task %s accepted (%s, input=%s)", taskID, kind, inputPath)
	return task, nil
}

// run drives one task; it is started exactly once per accepted task
func (s *TaskService) run(task *models.Task) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.active, task.ID)
		s.mutex.Unlock()
	}()

	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}

	started := time.Now()
	state := s.runner.Run(s.baseCtx, task)
	duration := time.Since(started)

	for _, observer := range s.observers {
		observer.TaskCompleted(s.baseCtx, task, state, duration)
	}
}

// GetState returns the persisted state of a task as-is
func (s *TaskService) GetState(ctx context.Context, taskID string) (*models.TaskState, error) {
	return s.store.Get(ctx, taskID)
}

// ActiveInputs returns the input paths of tasks that have not finished yet
func (s *TaskService) ActiveInputs() map[string]bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	inputs := make(map[string]bool, len(s.active))
	for _, task := range s.active {
		inputs[task.InputPath] = true
	}
	return inputs
}

// InputInUse reports whether path is the input of an unfinished task
func (s *TaskService) InputInUse(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return s.ActiveInputs()[path]
}

// Wait blocks until every scheduled task has finished or ctx is done
func (s *TaskService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
