package file

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/upload-backgrounder/internal/storage"
)

// Storage provides an S3-compatible storage backend using MinIO.
// It stores upload cache entries and permanent files in a single bucket.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads the provided reader to subdir/filename in the bucket.
// Returns the object path within the bucket.
func (s *Storage) Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error) {
	objectName := path.Join(subdir, filename)

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, src, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", objectName, err)
	}

	return objectName, nil
}

// Load retrieves the object at path and returns a reader.
// The object is stat'ed first so a missing key surfaces as ErrNotFound here
// instead of on the first read.
func (s *Storage) Load(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", objectName, err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("load %s: %w", objectName, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat file %s: %w", objectName, err)
	}

	return obj, nil
}

// Delete removes the object at path from the bucket.
// Removing a missing object is not an error.
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", objectName, err)
	}

	return nil
}
