package models

import "time"

// TaskStatus represents the status of an OCR task
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusFailed   TaskStatus = "error"
)

// IsTerminal reports whether no further state changes will happen
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusFinished || s == TaskStatusFailed
}

// FileKind is the document kind that selects the worker program
type FileKind string

const (
	FileKindPDF   FileKind = "pdf"
	FileKindImage FileKind = "image"
)

// Task represents one OCR invocation owned by the orchestrator
type Task struct {
	ID        string
	InputPath string
	Prompt    string
	Kind      FileKind
	OutputDir string
	Status    TaskStatus
	CreatedAt time.Time
}

// TaskState is the durable per-task record. It is served by the query
// endpoints as-is, so the field names are part of the API.
type TaskState struct {
	TaskID    string     `json:"task_id" bson:"_id"`
	Status    TaskStatus `json:"status" bson:"status"`
	ResultDir string     `json:"result_dir,omitempty" bson:"result_dir,omitempty"`
	Progress  int        `json:"progress" bson:"progress"`
	Files     []string   `json:"files,omitempty" bson:"files,omitempty"`
	Message   string     `json:"message,omitempty" bson:"message,omitempty"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// ProgressEvent is pushed to a live subscriber. Intermediate events only carry
// task_id and progress; the final event also carries the terminal state.
type ProgressEvent struct {
	TaskID    string     `json:"task_id"`
	Progress  int        `json:"progress"`
	Status    TaskStatus `json:"status,omitempty"`
	ResultDir string     `json:"result_dir,omitempty"`
	Files     []string   `json:"files,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// FinalEvent builds the event published once a task reaches a terminal state
func FinalEvent(state TaskState) ProgressEvent {
	return ProgressEvent{
		TaskID:    state.TaskID,
		Progress:  state.Progress,
		Status:    state.Status,
		ResultDir: state.ResultDir,
		Files:     state.Files,
		Message:   state.Message,
	}
}
