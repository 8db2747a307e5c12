package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// Config represents MinIO repository configuration
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// Repository implements repository.ObjectStore using MinIO
type Repository struct {
	client *minio.Client
	config *Config
	logger *logger.Logger
}

// NewRepository creates a new MinIO repository
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Repository{
		client: minioClient,
		config: cfg,
		logger: log,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (r *Repository) EnsureBucket(ctx context.Context) error {
	bucketName := r.config.BucketName

	exists, err := r.client.BucketExists(ctx, bucketName)
	if err != nil {
		return entity.NewUnavailableError("object store", err)
	}

	if !exists {
		r.logger.Info("Creating bucket", logger.String("bucket", bucketName))
		if err := r.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return entity.NewUnavailableError("object store", err)
		}
	}

	return nil
}

// Put uploads an object with the given user metadata
func (r *Repository) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	bucketName := r.config.BucketName

	r.logger.Debug("Uploading object to MinIO",
		logger.String("bucket", bucketName),
		logger.String("key", key),
		logger.Int("size", len(body)),
	)

	reader := bytes.NewReader(body)
	_, err := r.client.PutObject(ctx, bucketName, key, reader, int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: metadata,
	})
	if err != nil {
		return entity.NewUnavailableError("object store", fmt.Errorf("failed to upload object %s: %w", key, err))
	}

	return nil
}

// Get downloads an object and its user metadata. A missing key is reported
// as entity.ErrObjectNotFound.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	bucketName := r.config.BucketName

	obj, err := r.client.GetObject(ctx, bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, entity.NewUnavailableError("object store", err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat performs the request and exposes metadata.
	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, entity.ErrObjectNotFound
		}
		return nil, nil, entity.NewUnavailableError("object store", err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, entity.NewUnavailableError("object store", err)
	}

	// MinIO canonicalizes user metadata keys (Expiry-Date); normalize to
	// lowercase so callers can use the keys they wrote.
	metadata := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		metadata[strings.ToLower(k)] = v
	}

	return body, metadata, nil
}

// Delete removes an object. Deleting an absent key is not an error.
func (r *Repository) Delete(ctx context.Context, key string) error {
	bucketName := r.config.BucketName

	err := r.client.RemoveObject(ctx, bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return entity.NewUnavailableError("object store", fmt.Errorf("failed to delete object %s: %w", key, err))
	}

	return nil
}

// ListKeys returns the keys of all objects under the given prefix
func (r *Repository) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	bucketName := r.config.BucketName

	var keys []string
	for object := range r.client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			if errors.Is(object.Err, context.Canceled) {
				return nil, object.Err
			}
			return nil, entity.NewUnavailableError("object store", object.Err)
		}
		keys = append(keys, object.Key)
	}

	return keys, nil
}
