package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestInStock_Mixed(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "stock:test-in", "stock:test-out", "stock:test-missing")
	adapter.SetStock(ctx, "test-in", 10)
	adapter.SetStock(ctx, "test-out", 0)

	got, err := adapter.InStock(ctx, []string{"test-in", "test-out", "test-missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got["test-in"] {
		t.Error("expected test-in in stock")
	}
	if in, ok := got["test-out"]; !ok || in {
		t.Errorf("expected test-out reported out of stock, got %v/%v", in, ok)
	}
	if _, ok := got["test-missing"]; ok {
		t.Error("expected no answer for unknown SKU")
	}
}

func TestInStock_AllMissing(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stock:nonexistent")

	got, err := adapter.InStock(ctx, []string{"nonexistent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty answer, got %v", got)
	}
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "test-idem-key")

	// First call should succeed
	ok, err := adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	// Released keys can be claimed again
	if err := adapter.ReleaseIdempotency(ctx, "test-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil || !ok {
		t.Errorf("expected claim after release, got %v/%v", ok, err)
	}
	client.Del(ctx, "test-idem-key")
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
