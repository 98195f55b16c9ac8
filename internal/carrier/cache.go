package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(ctx context.Context, rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachedLocator serves repeated queries from cache. Cache failures never
// fail a lookup.
type CachedLocator struct {
	next  Locator
	cache Cache
	ttl   time.Duration
}

func NewCachedLocator(next Locator, cache Cache, ttl time.Duration) *CachedLocator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedLocator{next: next, cache: cache, ttl: ttl}
}

func (l *CachedLocator) FindPoints(ctx context.Context, q Query) ([]order.PickupPoint, error) {
	q = q.normalize()
	key := q.key()

	if b, err := l.cache.Get(ctx, key); err == nil {
		var points []order.PickupPoint
		if err := json.Unmarshal(b, &points); err == nil {
			return points, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		logger.Log.Warn("carrier cache read", zap.String("key", key), zap.Error(err))
	}

	points, err := l.next.FindPoints(ctx, q)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(points); err == nil {
		if err := l.cache.Set(ctx, key, b, l.ttl); err != nil {
			logger.Log.Warn("carrier cache write", zap.String("key", key), zap.Error(err))
		}
	}
	return points, nil
}
