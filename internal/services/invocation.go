package services

import (
	"fmt"
	"os"
	"path/filepath"

	"ocr-task-server/internal/models"
	"ocr-task-server/internal/validation"
)

// Invocation is the per-task descriptor read by the OCR worker. Each task gets
// its own file, so concurrent tasks never overwrite each other's settings.
type Invocation struct {
	TaskID            string `json:"task_id"`
	ModelPath         string `json:"model_path"`
	InputPath         string `json:"input_path"`
	OutputPath        string `json:"output_path"`
	Prompt            string `json:"prompt"`
	FileType          string `json:"file_type"`
	DeviceID          string `json:"device_id,omitempty"`
	BaseSize          int    `json:"base_size"`
	ImageSize         int    `json:"image_size"`
	CropMode          bool   `json:"crop_mode"`
	MinCrops          int    `json:"min_crops"`
	MaxCrops          int    `json:"max_crops"`
	MaxConcurrency    int    `json:"max_concurrency"`
	NumWorkers        int    `json:"num_workers"`
	PrintNumVisTokens bool   `json:"print_num_vis_tokens"`
	SkipRepeat        bool   `json:"skip_repeat"`
}

// NewInvocation fills the descriptor for task with the model's tuning defaults
func NewInvocation(task *models.Task, modelPath, deviceID string) Invocation {
	return Invocation{
		TaskID:         task.ID,
		ModelPath:      modelPath,
		InputPath:      task.InputPath,
		OutputPath:     task.OutputDir,
		Prompt:         task.Prompt,
		FileType:       string(task.Kind),
		DeviceID:       deviceID,
		BaseSize:       1024,
		ImageSize:      640,
		CropMode:       true,
		MinCrops:       2,
		MaxCrops:       6,
		MaxConcurrency: 10,
		NumWorkers:     32,
		SkipRepeat:     true,
	}
}

// Env returns the descriptor as environment variables for the worker process
func (inv Invocation) Env(configPath string) []string {
	env := []string{
		"OCR_TASK_ID=" + inv.TaskID,
		"OCR_TASK_CONFIG=" + configPath,
		"OCR_MODEL_PATH=" + inv.ModelPath,
		"OCR_INPUT_PATH=" + inv.InputPath,
		"OCR_OUTPUT_PATH=" + inv.OutputPath,
		"OCR_PROMPT=" + inv.Prompt,
	}
	if inv.DeviceID != "" {
		env = append(env, "CUDA_VISIBLE_DEVICES="+inv.DeviceID)
	}
	return env
}

// WriteInvocation validates inv and writes it to <taskDir>/invocation.json
func WriteInvocation(taskDir string, inv Invocation) (string, error) {
	data, err := validation.ValidateInvocation(inv)
	if err != nil {
		return "", fmt.Errorf("invalid worker invocation: %w", err)
	}
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}
	path := filepath.Join(taskDir, "invocation.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write worker invocation: %w", err)
	}
	return path, nil
}
