package services

import (
	"context"
	"io"
)

// StorageInterface defines the interface for result archive operations
// This allows switching between S3 and local storage implementations
type StorageInterface interface {
	// UploadResult stores one result file of a task and returns its storage key
	UploadResult(ctx context.Context, taskID, relPath string, reader io.Reader, contentType string) (string, error)

	// GetFileURL returns the full URL for a given key
	GetFileURL(key string) string

	// GetResultKey generates the storage key for a result file
	GetResultKey(taskID, relPath string) string

	// GetObject retrieves an object from storage
	GetObject(ctx context.Context, key string) (io.ReadCloser, string, error)
}
