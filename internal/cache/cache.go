// Package cache keeps short-lived lookups such as the provider redirect URL
// of a payment, so a client can resume checkout without a new gateway call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentURLTTL matches the lifetime of a provider checkout page.
const PaymentURLTTL = 24 * time.Hour

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type URLCache interface {
	SetPaymentURL(ctx context.Context, paymentID int64, url string) error
	GetPaymentURL(ctx context.Context, paymentID int64) (string, error)
}

func paymentURLKey(paymentID int64) string {
	return fmt.Sprintf("payment_url:%d", paymentID)
}

// RedisURLCache is backed by a go-redis client.
type RedisURLCache struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRedisURLCache parses a redis:// URL and pings the server.
func NewRedisURLCache(ctx context.Context, redisURL string) (*RedisURLCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisURLCache{Client: client, TTL: PaymentURLTTL}, nil
}

func (c *RedisURLCache) SetPaymentURL(ctx context.Context, paymentID int64, url string) error {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = PaymentURLTTL
	}
	return c.Client.Set(ctx, paymentURLKey(paymentID), url, ttl).Err()
}

func (c *RedisURLCache) GetPaymentURL(ctx context.Context, paymentID int64) (string, error) {
	v, err := c.Client.Get(ctx, paymentURLKey(paymentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (c *RedisURLCache) Close() error {
	return c.Client.Close()
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryURLCache is the fallback when REDIS_URL is empty.
type MemoryURLCache struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryURLCache() *MemoryURLCache {
	return &MemoryURLCache{TTL: PaymentURLTTL, Now: time.Now, entries: map[string]memoryEntry{}}
}

func (c *MemoryURLCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *MemoryURLCache) SetPaymentURL(_ context.Context, paymentID int64, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]memoryEntry{}
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = PaymentURLTTL
	}
	c.entries[paymentURLKey(paymentID)] = memoryEntry{value: url, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryURLCache) GetPaymentURL(_ context.Context, paymentID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := paymentURLKey(paymentID)
	e, ok := c.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return "", ErrMiss
	}
	return e.value, nil
}
