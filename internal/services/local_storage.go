package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// LocalStorage archives task results on the local filesystem
type LocalStorage struct {
	basePath string
	baseURL  string // Base URL for serving files (e.g., http://localhost:8002/archive)
}

// NewLocalStorage creates a new local archive backend
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  baseURL,
	}, nil
}

// UploadResult copies one result file into the archive directory
func (s *LocalStorage) UploadResult(ctx context.Context, taskID, relPath string, reader io.Reader, contentType string) (string, error) {
	key := s.GetResultKey(taskID, relPath)
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return key, nil
}

// GetFileURL returns the full URL for a given key
func (s *LocalStorage) GetFileURL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}

// GetResultKey generates the storage key for a result file
func (s *LocalStorage) GetResultKey(taskID, relPath string) string {
	return resultKey(taskID, relPath)
}

// GetObject retrieves an archived object
func (s *LocalStorage) GetObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(resultKeyClean(key)))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", key)
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	return file, contentTypeFor(key), nil
}

func resultKeyClean(key string) string {
	return filepath.ToSlash(filepath.Clean("/" + key))[1:]
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
