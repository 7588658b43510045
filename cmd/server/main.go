package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ocr-task-server/internal/api"
	"ocr-task-server/internal/config"
	"ocr-task-server/internal/database"
	"ocr-task-server/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	issueToken := flag.String("issue-token", "", "print an API token for the given client name and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var jwtService *services.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = services.NewJWTService(cfg.JWT.Secret)
	}

	if *issueToken != "" {
		if jwtService == nil {
			log.Fatalf("JWT_SECRET must be set to issue tokens")
		}
		token, err := jwtService.GenerateToken(*issueToken)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Initialize task state store
	var store database.StateStore
	switch cfg.State.Backend {
	case "mongo":
		mongoStore, err := database.NewMongoStateStore(cfg.MongoDB)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer mongoStore.Close()
		store = mongoStore
	default:
		fileStore, err := database.NewFileStateStore(cfg.Workspace.LogsDir)
		if err != nil {
			log.Fatalf("Failed to initialize state store: %v", err)
		}
		store = fileStore
	}
	log.Printf("[STORE] Task state backend: %s", cfg.State.Backend)

	// Optional post-run observers
	var observers []services.TaskObserver

	if cfg.InfluxEnabled() {
		metrics, err := database.NewInfluxMetrics(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		if err != nil {
			log.Printf("[WARN] Failed to initialize InfluxDB metrics: %v", err)
			log.Printf("[WARN] Server will start without task metrics")
		} else {
			defer metrics.Close()
			observers = append(observers, services.NewMetricsObserver(metrics))
		}
	}

	archive, err := newArchiveStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize result archive: %v", err)
	}
	if archive != nil {
		observers = append(observers, services.NewResultArchiver(archive))
	}

	fileService, err := services.NewFileService(cfg.Workspace.UploadDir, cfg.Workspace.ResultsDir)
	if err != nil {
		log.Fatalf("Failed to initialize file service: %v", err)
	}

	hub := services.NewProgressHub()
	supervisor := services.NewSupervisor(cfg.Worker, cfg.Workspace.TasksDir, store, hub, services.DefaultProgressRules())
	taskService := services.NewTaskService(store, fileService, supervisor, cfg.Worker.MaxConcurrency, observers...)

	if cfg.Uploads.MaxKeep > 0 {
		if err := fileService.StartRetention(cfg.Uploads.CleanupSchedule, cfg.Uploads.MaxKeep, taskService.InputInUse); err != nil {
			log.Fatalf("Failed to schedule upload cleanup: %v", err)
		}
		defer fileService.StopRetention()
	}

	handlers := api.NewHandlers(taskService, fileService, hub, cfg.Workspace.Root)
	router := api.SetupRoutes(handlers, jwtService)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	waitForShutdown(server, hub, taskService)
}

// newArchiveStorage returns the configured result archive, or nil when archiving is off
func newArchiveStorage(cfg *config.Config) (services.StorageInterface, error) {
	switch cfg.Archive.Backend {
	case "s3":
		log.Printf("[STORE] Archiving results to S3 bucket %s", cfg.S3.Bucket)
		return services.NewS3Storage(&cfg.S3)
	case "local":
		log.Printf("[STORE] Archiving results to %s", cfg.Archive.LocalPath)
		return services.NewLocalStorage(cfg.Archive.LocalPath, cfg.Archive.BaseURL)
	default:
		return nil, nil
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops accepting requests,
// releases live subscribers and gives running tasks time to finish
func waitForShutdown(server *http.Server, hub *services.ProgressHub, taskService *services.TaskService) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[WARN] HTTP server shutdown: %v", err)
	}
	if err := taskService.Wait(ctx); err != nil {
		log.Printf("[WARN] Tasks still running at shutdown: %v", err)
	}
}
