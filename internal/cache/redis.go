package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
)

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys; defaults to "image-loader:".
	Prefix string
	// TTL bounds entry lifetime; zero keeps entries until Redis evicts them.
	TTL time.Duration
}

// RedisCache stores PNG-encoded bitmaps in Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewRedisCacheWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "image-loader:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Name identifies the backend in logs.
func (c *RedisCache) Name() string { return "redis" }

// Get fetches the entry for key.
func (c *RedisCache) Get(ctx context.Context, key string) (*bitmap.Bitmap, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	bmp, err := bitmap.DecodePNG(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode redis entry: %w", err)
	}
	return bmp, true, nil
}

// Set stores bmp under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, bmp *bitmap.Bitmap) error {
	var buf bytes.Buffer
	if err := bmp.EncodePNG(&buf); err != nil {
		return fmt.Errorf("encode redis entry: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), buf.Bytes(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// EvictURI deletes every key in uri's namespace. With a cluster client only
// the node the scan lands on is covered.
func (c *RedisCache) EvictURI(ctx context.Context, uri string) (int, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+Hash(uri)+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// redisKey namespaces key under its source so EvictURI can find it.
func (c *RedisCache) redisKey(key string) string {
	return c.prefix + Hash(sourceOf(key)) + ":" + Hash(key)
}

var _ Secondary = (*RedisCache)(nil)
