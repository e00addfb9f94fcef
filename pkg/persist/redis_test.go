package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis for unit tests. Integration tests
// use testcontainers-go instead (see redis_integration_test.go).
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore_SetAndGet(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()

	if err := store.Set(ctx, "images:uris", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "images:uris")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{}` {
		t.Errorf("Get = %s, want {}", got)
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))

	_, err := store.Get(context.Background(), "nothing:uris")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
