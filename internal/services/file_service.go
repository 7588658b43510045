package services

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ocr-task-server/internal/models"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrUnsupportedFileType is returned for documents that are neither PDF nor image
var ErrUnsupportedFileType = errors.New("unsupported file type")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// DetectFileType classifies a document by its extension
func DetectFileType(path string) (models.FileKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return models.FileKindPDF, nil
	}
	if imageExtensions[ext] {
		return models.FileKindImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
}

// FileService handles uploads and per-task result directories on local disk
type FileService struct {
	uploadDir  string
	resultsDir string
	now        func() time.Time
	cron       *cron.Cron
}

// NewFileService creates a new file service
func NewFileService(uploadDir, resultsDir string) (*FileService, error) {
	for _, dir := range []string{uploadDir, resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &FileService{
		uploadDir:  uploadDir,
		resultsDir: resultsDir,
		now:        time.Now,
	}, nil
}

// ResultsDir returns the root holding every task output directory
func (s *FileService) ResultsDir() string {
	return s.resultsDir
}

// uniqueName builds <prefix>_<YYYYMMDD_HHMMSS>_<8 hex>
func (s *FileService) uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%s_%s", prefix, s.now().Format("20060102_150405"), uuid.NewString()[:8])
}

// SaveUpload stores an uploaded document under a unique name and returns its path and kind.
// Unsupported documents are rejected before anything is written.
func (s *FileService) SaveUpload(originalName string, reader io.Reader) (string, models.FileKind, error) {
	ext := filepath.Ext(filepath.Base(originalName))
	kind, err := DetectFileType(ext)
	if err != nil {
		return "", "", err
	}

	fullPath := filepath.Join(s.uploadDir, s.uniqueName("user_upload")+ext)

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		// Clean up on error
		os.Remove(fullPath)
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}

	log.Printf("[FILES] Upload saved: %s (%s)", fullPath, kind)
	return fullPath, kind, nil
}

// CreateResultDir creates a fresh output directory owned by one task.
// os.Mkdir fails if the directory already exists, so a directory is never shared.
func (s *FileService) CreateResultDir(prefix string) (string, error) {
	dir := filepath.Join(s.resultsDir, s.uniqueName(prefix))
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}
	log.Printf("[FILES] Result directory created: %s", dir)
	return dir, nil
}

// ListResultFiles returns every file below dir as sorted slash-separated relative paths
func ListResultFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list result files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// BuildTree returns the folder tree of dir, folders first then files, names case-insensitive
func BuildTree(dir string) ([]models.FileNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	nodes := make([]models.FileNode, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			children, err := BuildTree(path)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, models.FileNode{Name: entry.Name(), Type: "folder", Path: path, Children: children})
			continue
		}
		nodes = append(nodes, models.FileNode{Name: entry.Name(), Type: "file", Path: path})
	}
	return nodes, nil
}

// CleanupUploads keeps the maxKeep most recent uploads and deletes the rest,
// skipping any path for which inUse returns true.
func (s *FileService) CleanupUploads(maxKeep int, inUse func(path string) bool) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	type upload struct {
		path    string
		modTime time.Time
	}
	var uploads []upload
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		uploads = append(uploads, upload{path: filepath.Join(s.uploadDir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].modTime.After(uploads[j].modTime)
	})

	if len(uploads) <= maxKeep {
		return 0, nil
	}

	removed := 0
	for _, u := range uploads[maxKeep:] {
		if inUse != nil && inUse(u.path) {
			continue
		}
		if err := os.Remove(u.path); err != nil {
			log.Printf("[WARN] Failed to delete old upload %s: %v", u.path, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartRetention schedules CleanupUploads on a cron spec (e.g. "@hourly")
func (s *FileService) StartRetention(spec string, maxKeep int, inUse func(path string) bool) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		removed, err := s.CleanupUploads(maxKeep, inUse)
		if err != nil {
			log.Printf("[ERROR] Upload cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("[FILES] Upload cleanup removed %d file(s)", removed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	log.Printf("[FILES] Upload retention scheduled (%s, keep %d)", spec, maxKeep)
	return nil
}

// StopRetention stops the cleanup scheduler, if running
func (s *FileService) StopRetention() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
