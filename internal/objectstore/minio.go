package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds MinIO connection settings.
type MinioConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Secure         bool
	PDFBucket      string
	ParquetsBucket string
}

// MinioStore implements Store on a MinIO/S3 backend. Documents and artifacts
// live in separate buckets; within a bucket, objects are named
// <taskID>/<key>.
type MinioStore struct {
	client         *minio.Client
	pdfBucket      string
	parquetsBucket string
}

// NewMinioStore creates a MinIO-backed store and ensures both buckets exist.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	s := &MinioStore{
		client:         client,
		pdfBucket:      cfg.PDFBucket,
		parquetsBucket: cfg.ParquetsBucket,
	}

	for _, bucket := range []string{s.pdfBucket, s.parquetsBucket} {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}

	return s, nil
}

// Put stores data under the task's namespace.
func (s *MinioStore) Put(ctx context.Context, taskID, key string, data []byte, contentType string) error {
	bucket := s.bucketFor(key)
	name := taskID + "/" + key

	_, err := s.client.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("minio put %s/%s: %w", bucket, name, err)
	}
	return nil
}

// Get retrieves an object. Returns ErrNotFound when absent.
func (s *MinioStore) Get(ctx context.Context, taskID, key string) ([]byte, error) {
	bucket := s.bucketFor(key)
	name := taskID + "/" + key

	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s/%s: %w", bucket, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("minio read %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// List returns the keys under the task's namespace matching prefix. Both
// buckets are scanned so callers see the full per-task namespace.
func (s *MinioStore) List(ctx context.Context, taskID, prefix string) ([]string, error) {
	var keys []string
	for _, bucket := range []string{s.pdfBucket, s.parquetsBucket} {
		opts := minio.ListObjectsOptions{
			Prefix:    taskID + "/" + prefix,
			Recursive: true,
		}
		for obj := range s.client.ListObjects(ctx, bucket, opts) {
			if obj.Err != nil {
				return nil, fmt.Errorf("minio list %s: %w", bucket, obj.Err)
			}
			keys = append(keys, strings.TrimPrefix(obj.Key, taskID+"/"))
		}
	}
	return keys, nil
}

func (s *MinioStore) bucketFor(key string) string {
	if Category(key) == CategoryParquets {
		return s.parquetsBucket
	}
	return s.pdfBucket
}
