package services

import (
	"context"
	"fmt"
	"io"
	"path"

	"ocr-task-server/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Storage archives task results in an S3 bucket
type S3Storage struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string // Custom endpoint for MinIO/S3-compatible services
}

// NewS3Storage creates a new S3 archive backend
func NewS3Storage(cfg *config.S3Config) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
	}, nil
}

// UploadResult uploads one result file to S3 under results/<task>/<relPath>
func (s *S3Storage) UploadResult(ctx context.Context, taskID, relPath string, reader io.Reader, contentType string) (string, error) {
	key := s.GetResultKey(taskID, relPath)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return key, nil
}

// GetFileURL returns the full HTTPS URL for a given key
func (s *S3Storage) GetFileURL(key string) string {
	if s.endpoint != "" {
		// Format: <endpoint>/<bucket>/<key>
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	// Format: https://<bucket>.s3.<region>.amazonaws.com/<key>
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// GetResultKey generates the S3 key for a result file
func (s *S3Storage) GetResultKey(taskID, relPath string) string {
	return resultKey(taskID, relPath)
}

// GetObject retrieves an object from S3
// Returns the object body, content type, and any error
func (s *S3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object from S3: %w", err)
	}

	contentType := "application/octet-stream"
	if output.ContentType != nil {
		contentType = *output.ContentType
	}

	return output.Body, contentType, nil
}

// resultKey is shared by every backend so archives stay interchangeable
func resultKey(taskID, relPath string) string {
	return path.Join("results", taskID, path.Clean("/" + relPath)[1:])
}
