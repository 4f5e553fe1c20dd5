// Package artifact stores generated report files. The production
// implementation writes to S3-compatible object storage; MemoryStore
// backs tests and single-host setups.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore persists report artifacts to an S3-compatible bucket.
// Each report is one object; object storage PUTs are atomic, so a
// report is either fully present or absent.
type MinioStore struct {
	mc     *minio.Client
	bucket string
}

// NewMinioStore creates a store from config.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("artifact: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("artifact: access key and secret key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to create client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "course-reports"
	}

	return &MinioStore{mc: mc, bucket: bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifact: check bucket: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("artifact: create bucket: %w", err)
		}
	}
	return nil
}

// StoreRows encodes rows as CSV and uploads the file under the
// course's prefix in a single PUT.
func (s *MinioStore) StoreRows(ctx context.Context, courseID, filename string, rows [][]string) error {
	data, err := EncodeCSV(rows)
	if err != nil {
		return err
	}

	key := ObjectKey(courseID, filename)
	_, err = s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("artifact: upload %s: %w", key, err)
	}
	return nil
}

// ObjectKey namespaces an artifact under its course.
func ObjectKey(courseID, filename string) string {
	return courseID + "/" + filename
}

// EncodeCSV renders rows as UTF-8 CSV bytes.
func EncodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("artifact: encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
