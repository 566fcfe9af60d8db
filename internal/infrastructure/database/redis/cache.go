package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

var ErrCacheMiss = errors.New(errors.ErrCodeCacheError, "cache miss")

// Cache stores JSON values under prefixed keys.
type Cache struct {
	client     *Client
	logger     logging.Logger
	namespace  string
	defaultTTL time.Duration
	jitter     float64
}

type CacheOption func(*Cache)

// WithDefaultTTL sets the TTL used when Set receives zero.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// WithJitter spreads expirations by ±fraction of the TTL.
func WithJitter(fraction float64) CacheOption {
	return func(c *Cache) { c.jitter = fraction }
}

// NewCache returns a cache whose keys live under namespace.
func NewCache(client *Client, namespace string, log logging.Logger, opts ...CacheOption) *Cache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &Cache{
		client:     client,
		logger:     log,
		namespace:  namespace,
		defaultTTL: 15 * time.Minute,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(k string) string {
	return c.client.Key(c.namespace, k)
}

func (c *Cache) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 || c.jitter == 0 {
		return ttl
	}
	return ttl + time.Duration(float64(ttl)*c.jitter*(2*rand.Float64()-1))
}

// Get decodes the value at k into dest. It returns ErrCacheMiss when absent.
func (c *Cache) Get(ctx context.Context, k string, dest interface{}) error {
	if c.client.isClosed() {
		return ErrClientClosed
	}
	data, err := c.client.rdb.Get(ctx, c.key(k)).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is dropped and reported as a miss.
		c.logger.Warn("dropping undecodable cache entry", logging.String("key", k), logging.Err(err))
		_ = c.client.rdb.Del(ctx, c.key(k)).Err()
		return ErrCacheMiss
	}
	return nil
}

// Set stores value at k. A zero ttl means the default TTL.
func (c *Cache) Set(ctx context.Context, k string, value interface{}, ttl time.Duration) error {
	if c.client.isClosed() {
		return ErrClientClosed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode cache value")
	}
	if err := c.client.rdb.Set(ctx, c.key(k), data, c.ttl(ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache value")
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client.isClosed() {
		return ErrClientClosed
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.rdb.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
	}
	return nil
}

// Flush removes every key of the namespace and returns how many were
// deleted.
func (c *Cache) Flush(ctx context.Context) (int64, error) {
	var (
		deleted int64
		cursor  uint64
	)
	match := c.client.Key(c.namespace, "*")
	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan cache keys")
		}
		if len(keys) > 0 {
			if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
			}
			deleted += int64(len(keys))
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
