package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"bookhaven/pkg/domain"
)

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCartSummaryCacheRoundTripAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCartSummaryCache(newRedisClient(t, mr), "test:cart", time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	want := domain.CartSummary{Count: 2, Quantity: 5, Total: decimal.RequireFromString("41.97")}
	if err := cache.Set(ctx, "u1", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("test:cart:u1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
	got, ok, err := cache.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Count != 2 || got.Quantity != 5 || !got.Total.Equal(want.Total) {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if err := cache.Set(ctx, "u2", want); err != nil {
		t.Fatalf("set u2: %v", err)
	}
	if err := cache.Invalidate(ctx, "u1", "u2"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("test:cart:u1") || mr.Exists("test:cart:u2") {
		t.Fatalf("expected keys to be removed")
	}
}

func TestRedisCartSummaryCacheRequiresClient(t *testing.T) {
	if _, err := NewRedisCartSummaryCache(nil, "", 0); err == nil {
		t.Fatalf("expected constructor error for missing client")
	}
}

func TestRedisCartSummaryCacheReportsRedisErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCartSummaryCache(newRedisClient(t, mr), "", 0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	mr.Close()
	if _, _, err := cache.Get(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestMemoryCartSummaryCache(t *testing.T) {
	cache := NewMemoryCartSummaryCache()
	ctx := context.Background()
	_ = cache.Set(ctx, "u1", domain.CartSummary{Count: 1, Total: decimal.NewFromInt(3)})
	if got, ok, _ := cache.Get(ctx, "u1"); !ok || got.Count != 1 {
		t.Fatalf("expected cached summary, got %+v ok=%v", got, ok)
	}
	_ = cache.Invalidate(ctx, "u1")
	if _, ok, _ := cache.Get(ctx, "u1"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}
