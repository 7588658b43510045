package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Workspace WorkspaceConfig
	Worker    WorkerConfig
	State     StateConfig
	MongoDB   MongoDBConfig
	InfluxDB  InfluxDBConfig
	Archive   ArchiveConfig
	S3        S3Config
	JWT       JWTConfig
	Uploads   UploadsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// WorkspaceConfig holds the on-disk layout used by the service
type WorkspaceConfig struct {
	Root       string
	UploadDir  string
	ResultsDir string
	LogsDir    string // task state records
	TasksDir   string // per-task invocation descriptors and worker logs
}

// WorkerConfig describes how the external OCR worker is launched
type WorkerConfig struct {
	ModelPath      string
	DeviceID       string
	PDFCommand     string
	ImageCommand   string
	MaxConcurrency int
}

// StateConfig selects the task state backend ("file" or "mongo")
type StateConfig struct {
	Backend string
}

// MongoDBConfig holds MongoDB connection details
type MongoDBConfig struct {
	URI        string
	Username   string
	Password   string
	Host       string
	Port       string
	Database   string
	Collection string
	AuthSource string // Database to authenticate against (default: admin)
}

// InfluxDBConfig holds InfluxDB connection details (optional, task metrics)
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// ArchiveConfig selects where finished results are mirrored ("none", "local" or "s3")
type ArchiveConfig struct {
	Backend   string
	LocalPath string
	BaseURL   string
}

// S3Config holds S3 connection details
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional: for S3-compatible services like MinIO
}

// JWTConfig holds JWT-related configuration. An empty secret disables API auth.
type JWTConfig struct {
	Secret string
}

// UploadsConfig controls retention of uploaded files
type UploadsConfig struct {
	MaxKeep         int // 0 disables cleanup
	CleanupSchedule string
}

// LoadConfig loads configuration from environment variables and prepares the workspace
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	root := getEnv("WORKSPACE_PATH", "workspace")

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8002"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Workspace: NewWorkspaceConfig(root),
		Worker: WorkerConfig{
			ModelPath:      getEnv("MODEL_PATH", ""),
			DeviceID:       getEnv("DEVICE_ID", "0"),
			PDFCommand:     getEnv("PDF_WORKER_CMD", "python run_dpsk_ocr_pdf.py"),
			ImageCommand:   getEnv("IMAGE_WORKER_CMD", "python run_dpsk_ocr_image.py"),
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 10),
		},
		State: StateConfig{
			Backend: strings.ToLower(getEnv("STATE_BACKEND", "file")),
		},
		MongoDB: MongoDBConfig{
			URI:        getEnv("MONGODB_URI", ""),
			Username:   getEnv("MONGODB_USERNAME", ""),
			Password:   getEnv("MONGODB_PASSWORD", ""),
			Host:       getEnv("MONGODB_HOST", "localhost"),
			Port:       getEnv("MONGODB_PORT", "27017"),
			Database:   getEnv("MONGODB_DATABASE", "ocr"),
			Collection: getEnv("MONGODB_COLLECTION", "task_states"),
			AuthSource: getEnv("MONGODB_AUTH_SOURCE", "admin"),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB2_URL", ""),
			Token:  getEnv("INFLUXDB2_TOKEN", ""),
			Org:    getEnv("INFLUXDB2_ORG", ""),
			Bucket: getEnv("INFLUXDB2_BUCKET", ""),
		},
		Archive: ArchiveConfig{
			Backend:   strings.ToLower(getEnv("ARCHIVE_BACKEND", "none")),
			LocalPath: getEnv("ARCHIVE_LOCAL_PATH", filepath.Join(root, "archive")),
			BaseURL:   getEnv("ARCHIVE_BASE_URL", "http://localhost:8002/archive"),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""), // Optional for MinIO/custom S3
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Uploads: UploadsConfig{
			MaxKeep:         getEnvInt("UPLOAD_MAX_KEEP", 0),
			CleanupSchedule: getEnv("UPLOAD_CLEANUP_SCHEDULE", "@hourly"),
		},
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	if err := config.Workspace.Ensure(); err != nil {
		return nil, err
	}

	return config, nil
}

// NewWorkspaceConfig derives the workspace layout from its root directory
func NewWorkspaceConfig(root string) WorkspaceConfig {
	return WorkspaceConfig{
		Root:       root,
		UploadDir:  filepath.Join(root, "uploads"),
		ResultsDir: filepath.Join(root, "results"),
		LogsDir:    filepath.Join(root, "logs"),
		TasksDir:   filepath.Join(root, "tasks"),
	}
}

// Ensure creates every workspace directory
func (w WorkspaceConfig) Ensure() error {
	for _, dir := range []string{w.Root, w.UploadDir, w.ResultsDir, w.LogsDir, w.TasksDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateConfig validates that required configuration values are present
func ValidateConfig(config *Config) error {
	if strings.TrimSpace(config.Worker.ModelPath) == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if strings.TrimSpace(config.Worker.PDFCommand) == "" {
		return fmt.Errorf("PDF_WORKER_CMD must not be empty")
	}
	if strings.TrimSpace(config.Worker.ImageCommand) == "" {
		return fmt.Errorf("IMAGE_WORKER_CMD must not be empty")
	}
	if config.Worker.MaxConcurrency < 0 {
		return fmt.Errorf("MAX_CONCURRENCY must not be negative")
	}

	switch config.State.Backend {
	case "file", "mongo":
	default:
		return fmt.Errorf("STATE_BACKEND must be \"file\" or \"mongo\", got %q", config.State.Backend)
	}

	switch config.Archive.Backend {
	case "none", "local":
	case "s3":
		if config.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARCHIVE_BACKEND=s3")
		}
		if config.S3.AccessKeyID == "" || config.S3.SecretAccessKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when ARCHIVE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("ARCHIVE_BACKEND must be \"none\", \"local\" or \"s3\", got %q", config.Archive.Backend)
	}

	if config.Uploads.MaxKeep < 0 {
		return fmt.Errorf("UPLOAD_MAX_KEEP must not be negative")
	}
	return nil
}

// InfluxEnabled reports whether task metrics should be written
func (c *Config) InfluxEnabled() bool {
	return c.InfluxDB.URL != "" && c.InfluxDB.Token != "" && c.InfluxDB.Org != "" && c.InfluxDB.Bucket != ""
}

// Helper functions for environment variable access
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
