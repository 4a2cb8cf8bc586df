package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chain-gateway/logger"

	"github.com/allegro/bigcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the side cache written after every delegate reload. Values are stored as JSON.
type Cache interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, out any) error
	Close() error
}

// New connects to Redis when redisURL is set and falls back to an in-process cache when it
// is empty or unreachable.
func New(ctx context.Context, redisURL string, ttl time.Duration) (Cache, error) {
	if redisURL != "" {
		rc, err := NewRedisCache(ctx, redisURL, ttl)
		if err == nil {
			return rc, nil
		}
		logger.Logger.Warn("Redis unavailable, using in-process cache", zap.Error(err))
	}
	return NewMemoryCache(ttl)
}

// RedisCache stores entries in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache parses a redis:// URL and checks the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, out any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache keeps entries in process with bigcache. All entries share one life window.
type MemoryCache struct {
	cache *bigcache.BigCache
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) (*MemoryCache, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.CleanWindow = time.Minute
	cfg.Verbose = false

	bc, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: init memory cache: %w", err)
	}
	return &MemoryCache{cache: bc}, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(key, data)
}

func (c *MemoryCache) Get(_ context.Context, key string, out any) error {
	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *MemoryCache) Close() error {
	return c.cache.Close()
}
