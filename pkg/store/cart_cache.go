package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookhaven/pkg/domain"
)

const defaultCartSummaryTTL = 10 * time.Minute

// MemoryCartSummaryCache keeps summaries in-memory (single instance only).
type MemoryCartSummaryCache struct {
	mu        sync.Mutex
	summaries map[string]domain.CartSummary
}

// NewMemoryCartSummaryCache builds an in-memory summary cache.
func NewMemoryCartSummaryCache() *MemoryCartSummaryCache {
	return &MemoryCartSummaryCache{
		summaries: make(map[string]domain.CartSummary),
	}
}

// Get returns the cached summary for userID.
func (c *MemoryCartSummaryCache) Get(_ context.Context, userID string) (domain.CartSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary, ok := c.summaries[userID]
	return summary, ok, nil
}

// Set stores the summary for userID.
func (c *MemoryCartSummaryCache) Set(_ context.Context, userID string, summary domain.CartSummary) error {
	c.mu.Lock()
	c.summaries[userID] = summary
	c.mu.Unlock()
	return nil
}

// Invalidate drops the summaries of the given users.
func (c *MemoryCartSummaryCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	for _, id := range userIDs {
		delete(c.summaries, id)
	}
	c.mu.Unlock()
	return nil
}

// RedisCartSummaryCache stores summaries in Redis. Entries carry a TTL so a
// missed invalidation heals on its own.
type RedisCartSummaryCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCartSummaryCache builds a Redis-backed summary cache.
func NewRedisCartSummaryCache(client redis.Cmdable, prefix string, ttl time.Duration) (*RedisCartSummaryCache, error) {
	if client == nil {
		return nil, errors.New("cart summary cache redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookhaven:cart:summary"
	}
	if ttl <= 0 {
		ttl = defaultCartSummaryTTL
	}
	return &RedisCartSummaryCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Get returns the cached summary for userID.
func (c *RedisCartSummaryCache) Get(ctx context.Context, userID string) (domain.CartSummary, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CartSummary{}, false, nil
	}
	if err != nil {
		return domain.CartSummary{}, false, err
	}
	var summary domain.CartSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.CartSummary{}, false, err
	}
	return summary, true, nil
}

// Set stores the summary for userID.
func (c *RedisCartSummaryCache) Set(ctx context.Context, userID string, summary domain.CartSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

// Invalidate drops the summaries of the given users.
func (c *RedisCartSummaryCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, c.key(id))
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCartSummaryCache) key(userID string) string {
	return c.prefix + ":" + userID
}
