package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidContentType is returned before any write when a file's
	// content type is outside the allow-list.
	ErrInvalidContentType = errors.New("content type not allowed")
	// ErrPayloadTooLarge is returned before any write when the measured
	// payload exceeds the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrObjectNotFound is returned when a key has no stored object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrStoreUnavailable wraps transport or auth failures of the
	// underlying store.
	ErrStoreUnavailable = errors.New("object store unavailable")
)

// Constraints bound what an upload may contain. Zero values disable the
// corresponding check.
type Constraints struct {
	AllowedTypes []string
	MaxBytes     int64
}

// Check validates a declared content type and a measured size.
func (c Constraints) Check(contentType string, size int64) error {
	if len(c.AllowedTypes) > 0 {
		allowed := false
		for _, t := range c.AllowedTypes {
			if strings.EqualFold(strings.TrimSpace(contentType), t) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s (allowed: %s)", ErrInvalidContentType, contentType, strings.Join(c.AllowedTypes, ", "))
		}
	}
	if c.MaxBytes > 0 && size > c.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, size, c.MaxBytes)
	}
	return nil
}

// File is one binary payload to upload. Size is always measured from Data,
// never taken from a client-declared length.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// RetentionRule expires objects under a prefix after a fixed age.
type RetentionRule struct {
	ID     string
	Prefix string
	Days   int
}

// DefaultRetentionRules purge temporary uploads after one day and in-flight
// processing artifacts after seven.
func DefaultRetentionRules() []RetentionRule {
	return []RetentionRule{
		{ID: "expire-temp-uploads", Prefix: "temp/", Days: 1},
		{ID: "expire-processing-artifacts", Prefix: "processing/", Days: 7},
	}
}

// ObjectStore provides durable, addressable storage for binary assets with
// expiring read access.
type ObjectStore interface {
	// Put validates the file against constraints, then stores it under a
	// freshly generated key below prefix and returns that key.
	Put(ctx context.Context, prefix string, f File, c Constraints) (string, error)
	// PutMany validates every file up front, uploads them in parallel
	// under a common prefix, and returns keys in input order. On failure
	// it deletes whatever did land and returns the first error.
	PutMany(ctx context.Context, prefix string, files []File, c Constraints) ([]string, error)
	// PresignGet mints a URL for key valid for ttl from issuance.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes an object. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeleteMany removes a batch of objects. Missing keys are not an error.
	DeleteMany(ctx context.Context, keys []string) error
	// EnsureRetention declares the bucket's automatic expiry rules.
	// Idempotent; safe to call on every startup.
	EnsureRetention(ctx context.Context, rules []RetentionRule) error
}

// ObjectKey builds a collision-resistant key: prefix, UTC timestamp, random
// suffix, original extension lowercased.
func ObjectKey(prefix, filename string) string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%s-%s%s", strings.TrimSuffix(prefix, "/"), timestamp, suffix, ext)
}

// uploadAll implements the shared PutMany contract over any store's Put.
func uploadAll(ctx context.Context, s ObjectStore, prefix string, files []File, c Constraints) ([]string, error) {
	for _, f := range files {
		if err := c.Check(f.ContentType, int64(len(f.Data))); err != nil {
			return nil, err
		}
	}
	keys := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			key, err := s.Put(gctx, prefix, f, Constraints{})
			if err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		landed := make([]string, 0, len(keys))
		for _, key := range keys {
			if key != "" {
				landed = append(landed, key)
			}
		}
		if len(landed) > 0 {
			// Cleanup is best-effort; the caller already gets the
			// upload error.
			_ = s.DeleteMany(context.WithoutCancel(ctx), landed)
		}
		return nil, err
	}
	return keys, nil
}
