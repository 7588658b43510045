package models

// DefaultPrompt is used when a start request does not carry a prompt
const DefaultPrompt = "<image>\nFree OCR."

// StartTaskRequest represents the request to start an OCR task
type StartTaskRequest struct {
	FilePath string `json:"file_path"`
	Prompt   string `json:"prompt"`
}

// StartTaskResponse represents the response when a task was accepted
type StartTaskResponse struct {
	Status string `json:"status"` // always "running"
	TaskID string `json:"task_id"`
}

// UploadResponse represents the response for a saved upload
type UploadResponse struct {
	Status   string   `json:"status"`
	FilePath string   `json:"file_path"`
	FileType FileKind `json:"file_type"`
}

// ProgressResponse represents the response when polling task progress
type ProgressResponse struct {
	Status   string     `json:"status"` // "success"
	TaskID   string     `json:"task_id"`
	State    TaskStatus `json:"state"`
	Progress int        `json:"progress"`
}

// ResultResponse represents the response for a finished task
type ResultResponse struct {
	Status    string   `json:"status"` // "success"
	TaskID    string   `json:"task_id"`
	State     string   `json:"state"`
	ResultDir string   `json:"result_dir"`
	Files     []string `json:"files"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Status  string `json:"status"` // "error"
	Message string `json:"message"`
}

// FileNode is one entry of a result folder tree
type FileNode struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"` // "folder" or "file"
	Path     string     `json:"path"`
	Children []FileNode `json:"children,omitempty"`
}

// FolderResponse represents the recursive listing of a result folder
type FolderResponse struct {
	Status   string     `json:"status"`
	Path     string     `json:"path"`
	Children []FileNode `json:"children"`
}
