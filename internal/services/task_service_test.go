package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ocr-task-server/internal/database"
	"ocr-task-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner finishes a task only when release is closed
type blockingRunner struct {
	store   database.StateStore
	release chan struct{}

	running    int32
	maxRunning int32
}

func (r *blockingRunner) Run(ctx context.Context, task *models.Task) models.TaskState {
	n := atomic.AddInt32(&r.running, 1)
	for {
		peak := atomic.LoadInt32(&r.maxRunning)
		if n <= peak || atomic.CompareAndSwapInt32(&r.maxRunning, peak, n) {
			break
		}
	}
	defer atomic.AddInt32(&r.running, -1)

	<-r.release
	state := models.TaskState{
		TaskID:    task.ID,
		Status:    models.TaskStatusFinished,
		ResultDir: task.OutputDir,
		Progress:  100,
		Files:     []string{"result.md"},
	}
	_ = r.store.Put(ctx, state)
	return state
}

type recordingObserver struct {
	mu     sync.Mutex
	states []models.TaskState
}

func (o *recordingObserver) TaskCompleted(_ context.Context, _ *models.Task, state models.TaskState, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

type taskServiceFixture struct {
	root    string
	store   *database.FileStateStore
	files   *FileService
	runner  *blockingRunner
	service *TaskService
}

func newTaskServiceFixture(t *testing.T, maxConcurrency int, observers ...TaskObserver) *taskServiceFixture {
	t.Helper()
	root := t.TempDir()
	store, err := database.NewFileStateStore(filepath.Join(root, "logs"))
	require.NoError(t, err)
	files, err := NewFileService(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	require.NoError(t, err)
	runner := &blockingRunner{store: store, release: make(chan struct{})}

	return &taskServiceFixture{
		root:    root,
		store:   store,
		files:   files,
		runner:  runner,
		service: NewTaskService(store, files, runner, maxConcurrency, observers...),
	}
}

func (f *taskServiceFixture) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.root, "uploads", name)
	require.NoError(t, os.WriteFile(path, []byte("document"), 0644))
	return path
}

func (f *taskServiceFixture) finish(t *testing.T) {
	t.Helper()
	close(f.runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.service.Wait(ctx))
}

func TestTaskService_StartReturnsBeforeWorkerFinishes(t *testing.T) {
	f := newTaskServiceFixture(t, 2)
	ctx := context.Background()

	task, err := f.service.Start(ctx, f.input(t, "doc.pdf"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.FileKindPDF, task.Kind)
	assert.Equal(t, models.DefaultPrompt, task.Prompt)
	assert.DirExists(t, task.OutputDir)
	assert.True(t, strings.HasPrefix(filepath.Base(task.OutputDir), "ocr_task_"+task.ID+"_"))

	state, err := f.service.GetState(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, state.Status)
	assert.Equal(t, 0, state.Progress)
	assert.Equal(t, task.OutputDir, state.ResultDir)

	f.finish(t)

	state, err = f.service.GetState(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFinished, state.Status)
	assert.Equal(t, 100, state.Progress)
}

func TestTaskService_StartRejectsBadInput(t *testing.T) {
	f := newTaskServiceFixture(t, 2)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "", "")
	assert.ErrorIs(t, err, ErrInputNotFound)

	_, err = f.service.Start(ctx, filepath.Join(f.root, "nope.pdf"), "")
	assert.ErrorIs(t, err, ErrInputNotFound)

	_, err = f.service.Start(ctx, f.root, "")
	assert.ErrorIs(t, err, ErrInputNotFound)

	_, err = f.service.Start(ctx, f.input(t, "notes.txt"), "")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	entries, err := os.ReadDir(filepath.Join(f.root, "results"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no task is created for rejected input")
	assert.Empty(t, f.service.ActiveInputs())

	f.finish(t)
}

func TestTaskService_IDsAreUnique(t *testing.T) {
	f := newTaskServiceFixture(t, 0)
	input := f.input(t, "page.png")

	seen := make(map[string]bool)
	dirs := make(map[string]bool)
	for i := 0; i < 20; i++ {
		task, err := f.service.Start(context.Background(), input, "<image>\nConvert to markdown.")
		require.NoError(t, err)
		assert.False(t, seen[task.ID], "duplicate id %s", task.ID)
		assert.False(t, dirs[task.OutputDir], "shared output dir %s", task.OutputDir)
		seen[task.ID] = true
		dirs[task.OutputDir] = true
	}

	f.finish(t)
}

func TestTaskService_UnknownTask(t *testing.T) {
	f := newTaskServiceFixture(t, 1)

	_, err := f.service.GetState(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, database.ErrTaskNotFound)

	f.finish(t)
}

func TestTaskService_TerminalStateIsStable(t *testing.T) {
	f := newTaskServiceFixture(t, 1)
	ctx := context.Background()

	task, err := f.service.Start(ctx, f.input(t, "doc.pdf"), "")
	require.NoError(t, err)
	f.finish(t)

	first, err := f.service.GetState(ctx, task.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := f.service.GetState(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTaskService_TracksActiveInputs(t *testing.T) {
	f := newTaskServiceFixture(t, 1)
	input := f.input(t, "doc.pdf")

	_, err := f.service.Start(context.Background(), input, "")
	require.NoError(t, err)

	assert.True(t, f.service.InputInUse(input))
	assert.Len(t, f.service.ActiveInputs(), 1)

	f.finish(t)

	assert.False(t, f.service.InputInUse(input))
	assert.Empty(t, f.service.ActiveInputs())
}

func TestTaskService_BoundsConcurrency(t *testing.T) {
	f := newTaskServiceFixture(t, 2)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := f.service.Start(ctx, f.input(t, "doc.pdf"), "")
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&f.runner.running) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// queued tasks stay Running at 0 until a slot frees up
	for _, id := range ids {
		state, err := f.service.GetState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusRunning, state.Status)
	}

	f.finish(t)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.runner.maxRunning), int32(2))
}

func TestTaskService_NotifiesObservers(t *testing.T) {
	observer := &recordingObserver{}
	f := newTaskServiceFixture(t, 1, observer)

	task, err := f.service.Start(context.Background(), f.input(t, "doc.pdf"), "")
	require.NoError(t, err)
	f.finish(t)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.states, 1)
	assert.Equal(t, task.ID, observer.states[0].TaskID)
	assert.Equal(t, models.TaskStatusFinished, observer.states[0].Status)
}

func TestTaskService_WaitHonorsContext(t *testing.T) {
	f := newTaskServiceFixture(t, 1)

	_, err := f.service.Start(context.Background(), f.input(t, "doc.pdf"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.service.Wait(ctx), context.DeadlineExceeded)

	f.finish(t)
}

func TestTaskService_EndToEndWithWorker(t *testing.T) {
	root := t.TempDir()
	store, err := database.NewFileStateStore(filepath.Join(root, "logs"))
	require.NoError(t, err)
	files, err := NewFileService(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	require.NoError(t, err)
	publisher := newRecordingPublisher()
	supervisor := NewSupervisor(workerConfig(writeWorkerScript(t, successfulWorker)), filepath.Join(root, "tasks"), store, publisher, nil)
	service := NewTaskService(store, files, supervisor, 2)

	input := filepath.Join(root, "uploads", "doc.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.4"), 0644))

	task, err := service.Start(context.Background(), input, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, service.Wait(ctx))

	state, err := service.GetState(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFinished, state.Status)
	assert.Equal(t, 100, state.Progress)
	assert.NotEmpty(t, state.Files)

	events := publisher.For(task.ID)
	require.NotEmpty(t, events)
	assert.Equal(t, models.TaskStatusFinished, events[len(events)-1].Status)
}
