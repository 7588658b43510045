package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"ocr-task-server/internal/config"
	"ocr-task-server/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStateStore stores task states in MongoDB, one document per task id
type MongoStateStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStateStore connects to MongoDB and prepares the task state collection
func NewMongoStateStore(cfg config.MongoDBConfig) (*MongoStateStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	uri, logURI := buildMongoURI(cfg)
	log.Printf("[STORE] Attempting to connect to MongoDB at %s", logURI)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB at %s: %w", logURI, err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB at %s: %w", logURI, err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	statusIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}},
	}
	if _, err := collection.Indexes().CreateOne(ctx, statusIndex); err != nil {
		// Index might already exist, that's okay
		log.Printf("[STORE] Note: MongoDB index creation: %v", err)
	}

	return &MongoStateStore{
		client:     client,
		collection: collection,
	}, nil
}

// buildMongoURI returns the connection URI and a variant safe to log
func buildMongoURI(cfg config.MongoDBConfig) (string, string) {
	if cfg.URI != "" {
		return cfg.URI, "(MONGODB_URI)"
	}

	authSource := cfg.AuthSource
	if authSource == "" {
		authSource = "admin"
	}

	if cfg.Username != "" && cfg.Password != "" {
		userInfo := url.UserPassword(cfg.Username, cfg.Password)
		uri := fmt.Sprintf("mongodb://%s@%s:%s/%s?authSource=%s",
			userInfo.String(), cfg.Host, cfg.Port, cfg.Database, url.QueryEscape(authSource))
		logURI := fmt.Sprintf("mongodb://%s:***@%s:%s/%s?authSource=%s",
			url.User(cfg.Username).String(), cfg.Host, cfg.Port, cfg.Database, url.QueryEscape(authSource))
		return uri, logURI
	}

	uri := fmt.Sprintf("mongodb://%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)
	return uri, uri
}

// Put replaces the task document, inserting it when missing
func (s *MongoStateStore) Put(ctx context.Context, state models.TaskState) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": state.TaskID},
		state,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store task state %s: %w", state.TaskID, err)
	}
	return nil
}

// Get loads the task document for taskID
func (s *MongoStateStore) Get(ctx context.Context, taskID string) (*models.TaskState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var state models.TaskState
	err := s.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&state)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to query task state: %w", err)
	}
	return &state, nil
}

// Close closes the MongoDB client connection
func (s *MongoStateStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
