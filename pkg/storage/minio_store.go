package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put validates then uploads one object under a freshly generated key.
func (m *MinioStore) Put(ctx context.Context, prefix string, f File, c Constraints) (string, error) {
	if err := c.Check(f.ContentType, int64(len(f.Data))); err != nil {
		return "", err
	}
	key := ObjectKey(prefix, f.Name)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(f.Data), int64(len(f.Data)), minio.PutObjectOptions{
		ContentType: f.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object %s: %v", ErrStoreUnavailable, key, err)
	}
	return key, nil
}

// PutMany uploads files in parallel under a common prefix.
func (m *MinioStore) PutMany(ctx context.Context, prefix string, files []File, c Constraints) ([]string, error) {
	return uploadAll(ctx, m, prefix, files, c)
}

// PresignGet generates a pre-signed GET URL valid for ttl.
func (m *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Presigning never touches the object, so check existence explicitly.
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return "", fmt.Errorf("%w: stat %s: %v", ErrStoreUnavailable, key, err)
	}
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", ErrStoreUnavailable, key, err)
	}
	return url.String(), nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

// DeleteMany removes a batch of objects, continuing past missing keys.
func (m *MinioStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRetention declares bucket lifecycle rules for automatic expiry.
func (m *MinioStore) EnsureRetention(ctx context.Context, rules []RetentionRule) error {
	cfg := lifecycle.NewConfiguration()
	for _, rule := range rules {
		cfg.Rules = append(cfg.Rules, lifecycle.Rule{
			ID:         rule.ID,
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: rule.Prefix},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(rule.Days)},
		})
	}
	if err := m.client.SetBucketLifecycle(ctx, m.bucket, cfg); err != nil {
		return fmt.Errorf("%w: set lifecycle: %v", ErrStoreUnavailable, err)
	}
	return nil
}
