package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"ocr-task-server/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxMetrics records one point per finalized task in InfluxDB
type InfluxMetrics struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxMetrics creates a new InfluxDB metrics writer
func NewInfluxMetrics(url, token, org, bucket string) (*InfluxMetrics, error) {
	log.Printf("[INFLUX-INIT] Initializing InfluxDB 2.0 client: url=%s, org=%s, bucket=%s", url, org, bucket)

	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		log.Printf("[INFLUX-WARN] InfluxDB health check returned status: %s", health.Status)
	}

	return &InfluxMetrics{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		org:      org,
		bucket:   bucket,
	}, nil
}

// RecordTask writes an ocr_tasks point for a finalized task
func (m *InfluxMetrics) RecordTask(ctx context.Context, task *models.Task, state models.TaskState, duration time.Duration) error {
	point := TaskPoint(task, state, duration)
	if err := m.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	return nil
}

// TaskPoint builds the ocr_tasks measurement for a finalized task
func TaskPoint(task *models.Task, state models.TaskState, duration time.Duration) *write.Point {
	return influxdb2.NewPoint(
		"ocr_tasks",
		map[string]string{
			"status": string(state.Status),
			"kind":   string(task.Kind),
		},
		map[string]interface{}{
			"task_id":          task.ID,
			"progress":         state.Progress,
			"files":            len(state.Files),
			"duration_seconds": duration.Seconds(),
		},
		time.Now(),
	)
}

// Close closes the InfluxDB client connection
func (m *InfluxMetrics) Close() error {
	if m.client != nil {
		m.client.Close()
	}
	return nil
}
