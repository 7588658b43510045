package api

import (
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ocr-task-server/internal/database"
	"ocr-task-server/internal/models"
	"ocr-task-server/internal/services"

	"github.com/gin-gonic/gin"
)

// previewImageExtensions are served as raw bytes by the file preview endpoint
var previewImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Handlers contains all HTTP handlers
type Handlers struct {
	taskService   *services.TaskService
	fileService   *services.FileService
	hub           *services.ProgressHub
	workspaceRoot string
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	taskService *services.TaskService,
	fileService *services.FileService,
	hub *services.ProgressHub,
	workspaceRoot string,
) *Handlers {
	return &Handlers{
		taskService:   taskService,
		fileService:   fileService,
		hub:           hub,
		workspaceRoot: workspaceRoot,
	}
}

func errorJSON(c *gin.Context, code int, message string) {
	c.JSON(code, models.ErrorResponse{Status: "error", Message: message})
}

// UploadHandler handles POST /api/upload
func (h *Handlers) UploadHandler(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "file is required")
		return
	}

	src, err := header.Open()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	defer src.Close()

	path, kind, err := h.fileService.SaveUpload(header.Filename, src)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedFileType) {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[ERROR] Upload failed: %v", err)
		errorJSON(c, http.StatusInternalServerError, "failed to save uploaded file")
		return
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		Status:   "success",
		FilePath: path,
		FileType: kind,
	})
}

// StartTaskHandler handles POST /api/start
func (h *Handlers) StartTaskHandler(c *gin.Context) {
	var req models.StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskService.Start(c.Request.Context(), req.FilePath, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInputNotFound):
			errorJSON(c, http.StatusBadRequest, "file does not exist")
		case errors.Is(err, services.ErrUnsupportedFileType):
			errorJSON(c, http.StatusBadRequest, err.Error())
		default:
			log.Printf("[ERROR] Failed to start task: %v", err)
			errorJSON(c, http.StatusInternalServerError, "failed to start task")
		}
		return
	}

	// Return task ID immediately
	c.JSON(http.StatusAccepted, models.StartTaskResponse{
		Status: string(models.TaskStatusRunning),
		TaskID: task.ID,
	})
}

// loadState reads a task state and writes the error response itself when it fails
func (h *Handlers) loadState(c *gin.Context) (*models.TaskState, bool) {
	taskID := c.Param("taskId")
	if taskID == "" {
		errorJSON(c, http.StatusBadRequest, "taskId is required")
		return nil, false
	}

	state, err := h.taskService.GetState(c.Request.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrTaskNotFound):
			errorJSON(c, http.StatusNotFound, "task not found or state record missing")
		case errors.Is(err, database.ErrStateCorrupt):
			log.Printf("[WARN] Task %s: %v", taskID, err)
			errorJSON(c, http.StatusInternalServerError, "task state record is unreadable")
		default:
			log.Printf("[ERROR] Task %s: failed to read state: %v", taskID, err)
			errorJSON(c, http.StatusInternalServerError, "failed to read task state")
		}
		return nil, false
	}
	return state, true
}

// GetProgressHandler handles GET /api/progress/:taskId
func (h *Handlers) GetProgressHandler(c *gin.Context) {
	state, ok := h.loadState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.ProgressResponse{
		Status:   "success",
		TaskID:   state.TaskID,
		State:    state.Status,
		Progress: state.Progress,
	})
}

// GetResultHandler handles GET /api/result/:taskId
func (h *Handlers) GetResultHandler(c *gin.Context) {
	state, ok := h.loadState(c)
	if !ok {
		return
	}

	switch state.Status {
	case models.TaskStatusRunning, models.TaskStatusPending:
		c.JSON(http.StatusOK, models.StartTaskResponse{
			Status: string(models.TaskStatusRunning),
			TaskID: state.TaskID,
		})
		return
	case models.TaskStatusFailed:
		message := state.Message
		if message == "" {
			message = "unknown error"
		}
		errorJSON(c, http.StatusOK, message)
		return
	case models.TaskStatusFinished:
	default:
		errorJSON(c, http.StatusOK, "unknown task status: "+string(state.Status))
		return
	}

	if info, err := os.Stat(state.ResultDir); err != nil || !info.IsDir() {
		errorJSON(c, http.StatusOK, "result directory does not exist")
		return
	}

	files := state.Files
	if len(files) == 0 {
		listed, err := services.ListResultFiles(state.ResultDir)
		if err != nil {
			log.Printf("[WARN] Task %s: %v", state.TaskID, err)
		}
		files = listed
	}
	if files == nil {
		files = []string{}
	}

	c.JSON(http.StatusOK, models.ResultResponse{
		Status:    "success",
		TaskID:    state.TaskID,
		State:     string(models.TaskStatusFinished),
		ResultDir: state.ResultDir,
		Files:     files,
	})
}

// GetFolderHandler handles GET /api/folder?path=
// Only directories below the results root can be listed.
func (h *Handlers) GetFolderHandler(c *gin.Context) {
	path, ok := resolveWithin(h.fileService.ResultsDir(), c.Query("path"))
	if !ok {
		errorJSON(c, http.StatusBadRequest, "invalid path: "+c.Query("path"))
		return
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		errorJSON(c, http.StatusBadRequest, "invalid path: "+c.Query("path"))
		return
	}

	children, err := services.BuildTree(path)
	if err != nil {
		log.Printf("[ERROR] Failed to list folder %s: %v", path, err)
		errorJSON(c, http.StatusInternalServerError, "failed to list folder")
		return
	}

	c.JSON(http.StatusOK, models.FolderResponse{
		Status:   "success",
		Path:     path,
		Children: children,
	})
}

// GetFileContentHandler handles GET /api/file/content?path=
// Images are returned as-is, anything else as {"content": text}.
func (h *Handlers) GetFileContentHandler(c *gin.Context) {
	path, ok := resolveWithin(h.workspaceRoot, c.Query("path"))
	if !ok {
		errorJSON(c, http.StatusBadRequest, "invalid path: "+c.Query("path"))
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		errorJSON(c, http.StatusNotFound, "file does not exist")
		return
	}

	if previewImageExtensions[strings.ToLower(filepath.Ext(path))] {
		c.File(path)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[ERROR] Failed to read %s: %v", path, err)
		errorJSON(c, http.StatusInternalServerError, "failed to read file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": strings.ToValidUTF8(string(data), "")})
}

// resolveWithin returns the absolute form of target if it lies inside root
func resolveWithin(root, target string) (string, bool) {
	if strings.TrimSpace(target) == "" {
		return "", false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return absTarget, true
}
