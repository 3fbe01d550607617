package cache_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"judgeflow/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
)

func newCache(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func getCount(ctx context.Context, c cache.Cache, key string, calls *int, value int) (int, error) {
	return cache.GetWithCached(ctx, c, key, time.Minute, 10*time.Second,
		func(v int) bool { return v == 0 },
		strconv.Itoa,
		strconv.Atoi,
		func(context.Context) (int, error) {
			*calls++
			return value, nil
		},
	)
}

func TestGetWithCachedLoadsOnce(t *testing.T) {
	t.Parallel()
	mr, c := newCache(t)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		got, err := getCount(ctx, c, "count", &calls, 7)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != 7 {
			t.Fatalf("expected 7, got %d", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	if ttl := mr.TTL("count"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestGetWithCachedRemembersEmpty(t *testing.T) {
	t.Parallel()
	mr, c := newCache(t)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 2; i++ {
		got, err := getCount(ctx, c, "missing", &calls, 0)
		if err != nil || got != 0 {
			t.Fatalf("expected empty result, got %d err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
	if v, _ := mr.Get("missing"); v != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", v)
	}
}

func TestGetWithCachedDoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	mr, c := newCache(t)

	_, err := cache.GetWithCached(context.Background(), c, "broken", time.Minute, time.Second,
		func(v int) bool { return v == 0 },
		strconv.Itoa,
		strconv.Atoi,
		func(context.Context) (int, error) { return 0, errors.New("db down") },
	)
	if err == nil {
		t.Fatalf("expected load error")
	}
	if mr.Exists("broken") {
		t.Fatalf("error result must not be cached")
	}
}

func TestRedisCacheSetOps(t *testing.T) {
	t.Parallel()
	_, c := newCache(t)
	ctx := context.Background()

	if err := c.SAdd(ctx, "solved:1", int64(10)); err != nil {
		t.Fatalf("sadd failed: %v", err)
	}
	ok, err := c.SIsMember(ctx, "solved:1", int64(10))
	if err != nil || !ok {
		t.Fatalf("expected member, got %v err=%v", ok, err)
	}
	ok, _ = c.SIsMember(ctx, "solved:1", int64(11))
	if ok {
		t.Fatalf("unexpected member")
	}

	set, err := c.SetNX(ctx, "guard", "x", time.Minute)
	if err != nil || !set {
		t.Fatalf("expected first setnx to win, got %v err=%v", set, err)
	}
	set, _ = c.SetNX(ctx, "guard", "y", time.Minute)
	if set {
		t.Fatalf("expected second setnx to lose")
	}
	if v, _ := c.Get(ctx, "absent"); v != "" {
		t.Fatalf("expected empty string for missing key, got %q", v)
	}
}

func TestJitterTTLStaysWithinTenPercent(t *testing.T) {
	t.Parallel()
	ttl := 10 * time.Minute
	for i := 0; i < 50; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jittered ttl %v out of range", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("zero ttl must stay zero")
	}
}
