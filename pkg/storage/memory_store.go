package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in-process. It exists so the lifecycle can be
// exercised in tests without a running MinIO.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	rules   []RetentionRule
}

// NewMemoryStore initializes an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

// Put validates then stores one object under a freshly generated key.
func (m *MemoryStore) Put(_ context.Context, prefix string, f File, c Constraints) (string, error) {
	if err := c.Check(f.ContentType, int64(len(f.Data))); err != nil {
		return "", err
	}
	key := ObjectKey(prefix, f.Name)
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: f.ContentType}
	return key, nil
}

// PutMany uploads files under a common prefix.
func (m *MemoryStore) PutMany(ctx context.Context, prefix string, files []File, c Constraints) ([]string, error) {
	return uploadAll(ctx, m, prefix, files, c)
}

// PresignGet mints a URL that encodes the key, so tests can resolve URLs
// back to the objects they address.
func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("https://blob.test/%s?expires=%d", key, expires), nil
}

// ResolveURL maps a minted URL back to its storage key.
func (m *MemoryStore) ResolveURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "blob.test" {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, "/")
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return key, ok
}

// Has reports whether an object exists under key.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// Delete removes an object. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// DeleteMany removes a batch of objects.
func (m *MemoryStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRetention records the declared rules.
func (m *MemoryStore) EnsureRetention(_ context.Context, rules []RetentionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]RetentionRule(nil), rules...)
	return nil
}

// RetentionRules returns the last declared rules.
func (m *MemoryStore) RetentionRules() []RetentionRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RetentionRule(nil), m.rules...)
}
