package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"littlehero/pkg/domain"
)

const defaultMaxLen = 10000

// RedisNotifier publishes generation requests to a Redis stream. The book
// generator consumes the stream out of process and reports back through the
// completion webhook; nothing here waits on it.
type RedisNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisNotifierConfig configures the stream publisher.
type RedisNotifierConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisNotifier creates a stream-backed generation notifier.
func NewRedisNotifier(cfg RedisNotifierConfig) (*RedisNotifier, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("notifier stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisNotifier{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// NotifyGeneration appends one generation request to the stream.
func (n *RedisNotifier) NotifyGeneration(ctx context.Context, req domain.GenerationRequest) error {
	if strings.TrimSpace(req.BookID) == "" {
		return errors.New("bookId required")
	}
	photoKeys, err := json.Marshal(req.PhotoKeys)
	if err != nil {
		return fmt.Errorf("marshal photo keys: %w", err)
	}
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"book_id":        req.BookID,
			"child_name":     req.ChildName,
			"adventure_type": req.AdventureType,
			"photo_keys":     string(photoKeys),
		},
	}).Err()
}
