package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig describes an S3-compatible bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore keeps content as objects in an S3-compatible bucket.
// It is safe for concurrent use.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the endpoint and ensures the bucket exists.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("content: minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("content: minio credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("content: minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("content: create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("content: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("content: create bucket: %w", err)
		}
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) Save(ctx context.Context, data []byte, ownerID, versionID string) (string, error) {
	ref, err := ReferenceFor(ownerID, versionID, data)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, ref, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: MediaType(data),
		UserMetadata: map[string]string{
			"owner-id":   ownerID,
			"version-id": versionID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("content: put %s: %w", ref, err)
	}
	return ref, nil
}

func (s *MinIOStore) Read(ctx context.Context, ref string) ([]byte, error) {
	if err := ValidateReference(ref); err != nil {
		return nil, err
	}
	object, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(ref, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.translate(ref, err)
	}
	return data, nil
}

func (s *MinIOStore) Delete(ctx context.Context, ref string) error {
	if err := ValidateReference(ref); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		if isMissingObject(err) {
			return nil
		}
		return fmt.Errorf("content: delete %s: %w", ref, err)
	}
	return nil
}

func (s *MinIOStore) translate(ref string, err error) error {
	if isMissingObject(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("content: get %s: %w", ref, err)
}

func isMissingObject(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
