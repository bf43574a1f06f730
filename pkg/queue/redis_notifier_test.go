package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"littlehero/pkg/domain"
)

func TestRedisNotifierAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	notifier, err := NewRedisNotifier(RedisNotifierConfig{Addr: mr.Addr(), Stream: "test:generation"})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	err = notifier.NotifyGeneration(ctx, domain.GenerationRequest{
		BookID:        "book-1",
		ChildName:     "Mika",
		AdventureType: "space",
		PhotoKeys:     []string{"books/book-1/photos/a.jpg", "books/book-1/photos/b.jpg"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(ctx, "test:generation", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream has %d entries, want 1", len(entries))
	}
	values := entries[0].Values
	if values["book_id"] != "book-1" || values["child_name"] != "Mika" || values["adventure_type"] != "space" {
		t.Fatalf("unexpected entry values: %+v", values)
	}
	if values["photo_keys"] != `["books/book-1/photos/a.jpg","books/book-1/photos/b.jpg"]` {
		t.Fatalf("photo keys not serialized: %v", values["photo_keys"])
	}
}

func TestRedisNotifierRequiresBookID(t *testing.T) {
	mr := miniredis.RunT(t)
	notifier, err := NewRedisNotifier(RedisNotifierConfig{Addr: mr.Addr(), Stream: "test:generation"})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := notifier.NotifyGeneration(context.Background(), domain.GenerationRequest{}); err == nil {
		t.Fatalf("expected error for missing book id")
	}
}

func TestRedisNotifierConfigValidation(t *testing.T) {
	if _, err := NewRedisNotifier(RedisNotifierConfig{Stream: "s"}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
	if _, err := NewRedisNotifier(RedisNotifierConfig{Addr: "localhost:6379"}); err == nil {
		t.Fatalf("expected error for missing stream")
	}
}
