package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rejudge/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, server
}

func TestRedisCacheLock(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock:r1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = c.TryLock(ctx, "lock:r1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, ok=%v err=%v", ok, err)
	}
	if err := c.ExtendLock(ctx, "lock:r1", 2*time.Minute); err != nil {
		t.Fatalf("extend lock failed: %v", err)
	}
	if ttl := server.TTL("lock:r1"); ttl != 2*time.Minute {
		t.Fatalf("expected extended ttl, got %v", ttl)
	}
	if err := c.Unlock(ctx, "lock:r1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	ok, err = c.TryLock(ctx, "lock:r1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after unlock, ok=%v err=%v", ok, err)
	}
}

func TestGetWithCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "report", nil
	}
	identity := func(s string) string { return s }
	parse := func(s string) (string, error) { return s, nil }
	isEmpty := func(s string) bool { return s == "" }

	for i := 0; i < 2; i++ {
		got, err := cache.GetWithCached(ctx, c, "k", time.Minute, time.Second, isEmpty, identity, parse, fetch)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != "report" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	boom := errors.New("boom")
	_, err := cache.GetWithCached(ctx, c, "other", time.Minute, time.Second, isEmpty, identity, parse,
		func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestJitterTTL(t *testing.T) {
	ttl := 10 * time.Minute
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("expected zero ttl to be unchanged")
	}
}
