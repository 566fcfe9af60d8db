// Package redis provides the shared go-redis client, a JSON value cache and
// a lease-based mutex on top of it.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

var (
	ErrClientClosed     = errors.New(errors.ErrCodeCacheError, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.ErrCodeServiceUnavailable, "redis connection failed")
)

// Client wraps a go-redis client with a key prefix and close tracking.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient connects to the server in cfg and verifies it with PING.
func NewClient(ctx context.Context, cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, ErrConnectionFailed.WithCause(err).WithDetail(cfg.Addr)
	}

	log.Info("redis client connected", logging.String("addr", cfg.Addr), logging.Int("db", cfg.DB))
	return NewClientFromRedis(rdb, cfg.KeyPrefix, log), nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb redis.UniversalClient, prefix string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{rdb: rdb, prefix: prefix, logger: log}
}

// Key joins parts with ':' under the client prefix.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("failed to close redis client", logging.Err(err))
		return err
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) common.ComponentHealth {
	start := time.Now()
	h := common.ComponentHealth{Name: "redis", Status: common.HealthUp}
	if err := c.Ping(ctx); err != nil {
		h.Status = common.HealthDown
		h.Message = err.Error()
	}
	h.Latency = time.Since(start)
	return h
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
