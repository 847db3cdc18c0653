package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rampart/pkg/async"
	"github.com/platinummonkey/rampart/pkg/observability"
)

var tracer = otel.Tracer("rampart/archive")

// Config describes the bucket rotated audit files are copied to
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Prefix       string
	UsePathStyle bool
	// RemoveLocal deletes the local file after a successful upload
	RemoveLocal bool
	Workers     int
	Timeout     time.Duration
}

// S3Archiver uploads rotated audit log files to object storage
type S3Archiver struct {
	client      *s3.Client
	bucket      string
	prefix      string
	removeLocal bool
	pool        *async.WorkerPool
	logger      *observability.Logger
}

// NewS3Archiver builds the client, creates the bucket if needed and
// starts the upload workers.
func NewS3Archiver(ctx context.Context, cfg Config, logger *observability.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// static keys for MinIO and explicit AWS credentials
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// MinIO and older gateways reject unsigned trailing checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &S3Archiver{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		removeLocal: cfg.RemoveLocal,
		pool:        async.NewWorkerPool(ctx, cfg.Workers, "audit archive", cfg.Timeout, logger),
		logger:      logger.WithField("bucket", cfg.Bucket),
	}, nil
}

// Key returns the object key a local file is stored under
func (a *S3Archiver) Key(localPath string) string {
	return path.Join(a.prefix, filepath.Base(localPath))
}

// Upload copies the file at localPath to the bucket and returns its key
func (a *S3Archiver) Upload(ctx context.Context, localPath string) (string, error) {
	key := a.Key(localPath)
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	data, err := os.ReadFile(localPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read file")
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}

	if a.removeLocal {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.WithError(err).WithField("path", localPath).Warn("failed to remove archived audit file")
		}
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return key, nil
}

// Enqueue schedules an upload on the worker pool. It matches the
// audit.FileLoggerConfig OnRotate hook.
func (a *S3Archiver) Enqueue(localPath string) {
	err := a.pool.Submit(func(ctx context.Context) error {
		key, err := a.Upload(ctx, localPath)
		if err != nil {
			return err
		}
		a.logger.WithFields(map[string]interface{}{
			"path": localPath,
			"key":  key,
		}).Info("archived audit file")
		return nil
	})
	if err != nil {
		a.logger.WithError(err).WithField("path", localPath).Error("failed to schedule audit archive")
	}
}

// HealthCheck verifies the bucket is reachable
func (a *S3Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close waits for queued uploads to finish
func (a *S3Archiver) Close(timeout time.Duration) error {
	return a.pool.Shutdown(timeout)
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
