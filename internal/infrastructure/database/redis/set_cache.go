package redis

import (
	"context"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// SetCache caches complete coefficient sets. It satisfies coefficient.Cache.
type SetCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ coefficient.Cache = (*SetCache)(nil)

func NewSetCache(client *Client, ttl time.Duration, log logging.Logger) *SetCache {
	return &SetCache{
		cache: NewCache(client, "coeffset", log, WithDefaultTTL(ttl)),
		ttl:   ttl,
	}
}

// Get returns coefficient.ErrCacheMiss when the set is absent or fails its
// checksum.
func (c *SetCache) Get(ctx context.Context, id common.ID) (*coefficient.Set, error) {
	var s coefficient.Set
	if err := c.cache.Get(ctx, string(id), &s); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, coefficient.ErrCacheMiss
		}
		return nil, err
	}
	if !s.VerifyChecksum() {
		_ = c.cache.Delete(ctx, string(id))
		return nil, coefficient.ErrCacheMiss
	}
	return &s, nil
}

func (c *SetCache) Put(ctx context.Context, s *coefficient.Set) error {
	return c.cache.Set(ctx, string(s.ID), s, c.ttl)
}

func (c *SetCache) Invalidate(ctx context.Context, id common.ID) error {
	return c.cache.Delete(ctx, string(id))
}
