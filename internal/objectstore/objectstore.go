package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tgvault/tgvault/internal/config"
)

// ErrObjectAbsent means a delete found nothing to remove. The reclamation
// sweep treats it as success so metadata cleanup can proceed.
var ErrObjectAbsent = errors.New("object already absent")

// Store wraps the MinIO data plane. The core never reads object bytes.
type Store struct {
	client     *minio.Client
	bucketName string
}

func New(cfg *config.MinIO) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &Store{
		client:     client,
		bucketName: cfg.BucketName,
	}

	if err := store.ensureBucket(); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Store) ensureBucket() error {
	ctx := context.Background()

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// objectKey namespaces objects per owner; the unique element keeps repeated
// uploads of the same file name apart.
func objectKey(ownerID int64, fileName string) string {
	return fmt.Sprintf("users/%d/files/%s%s", ownerID, uuid.New().String(), path.Ext(fileName))
}

// Put streams an object into the bucket and returns its key and stored size.
func (s *Store) Put(ctx context.Context, reader io.Reader, size int64, ownerID int64, fileName, contentType string) (string, int64, error) {
	key := objectKey(ownerID, fileName)

	info, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to store object: %w", err)
	}

	return key, info.Size, nil
}

// Delete removes an object, reporting ErrObjectAbsent when there was nothing
// to remove and passing any other failure through for retry.
func (s *Store) Delete(ctx context.Context, key string) error {
	// S3 deletes are silent on missing keys, so probe first to keep the
	// absent case distinguishable.
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrObjectAbsent
		}
		return fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	err = s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Presign issues a time-limited download URL that serves the object as an
// attachment under its original file name.
func (s *Store) Presign(ctx context.Context, key, fileName string, ttl time.Duration) (*url.URL, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	return s.client.PresignedGetObject(ctx, s.bucketName, key, ttl, reqParams)
}
