package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResponseCacheMissThenHit(t *testing.T) {
	c := NewResponseCache(time.Minute)
	var calls atomic.Int32

	compute := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`"result"`), nil
	}

	key := Key("assistant", "hello", nil)
	first, err := c.Get(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(context.Background(), key, compute)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("cached values differ: %s vs %s", first, second)
	}
	if calls.Load() != 1 {
		t.Fatalf("compute called %d times, want 1", calls.Load())
	}

	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("stats = %+v, want 1 miss / 1 hit", stats)
	}
}

func TestResponseCacheSingleflightsConcurrentMisses(t *testing.T) {
	c := NewResponseCache(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`"result"`), nil
	}

	key := Key("assistant", "hello", nil)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), key, compute); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("compute called %d times, want 1 (singleflight)", calls.Load())
	}
}

func TestResponseCacheDoesNotCacheErrors(t *testing.T) {
	c := NewResponseCache(time.Minute)
	var calls atomic.Int32
	compute := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	}

	key := Key("assistant", "hello", nil)
	if _, err := c.Get(context.Background(), key, compute); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Get(context.Background(), key, compute); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Fatalf("compute called %d times, want 2 (failed computes are never cached)", calls.Load())
	}
}

func TestResponseCacheInvalidate(t *testing.T) {
	c := NewResponseCache(time.Minute)
	var calls atomic.Int32
	compute := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`"result"`), nil
	}

	key := Key("assistant", "hello", nil)
	c.Get(context.Background(), key, compute)
	c.Invalidate(key)
	c.Get(context.Background(), key, compute)

	if calls.Load() != 2 {
		t.Fatalf("compute called %d times, want 2 after invalidate", calls.Load())
	}
}

func TestKeyIsStableRegardlessOfArgOrder(t *testing.T) {
	a := Key("assistant", "hello", map[string]string{"a": "1", "b": "2"})
	b := Key("assistant", "hello", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Fatalf("Key should be order-independent over args: %q vs %q", a, b)
	}
}
