package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

type RedisSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *Client
	ctx    context.Context
}

func (s *RedisSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.ctx = context.Background()
	c, err := NewClient(s.ctx, config.RedisConfig{Addr: s.mr.Addr(), KeyPrefix: "t:"}, logging.NewNopLogger())
	s.Require().NoError(err)
	s.client = c
}

func (s *RedisSuite) TearDownTest() {
	_ = s.client.Close()
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) TestClient_KeyAndPing() {
	s.Equal("t:a:b", s.client.Key("a", "b"))
	s.NoError(s.client.Ping(s.ctx))
	s.Equal(common.HealthUp, s.client.HealthCheck(s.ctx).Status)
}

func (s *RedisSuite) TestClient_Closed() {
	s.Require().NoError(s.client.Close())
	s.NoError(s.client.Close())
	s.ErrorIs(s.client.Ping(s.ctx), ErrClientClosed)
	h := s.client.HealthCheck(s.ctx)
	s.Equal(common.HealthDown, h.Status)
	s.Equal("redis", h.Name)

	c := NewCache(s.client, "x", nil)
	var v int
	s.ErrorIs(c.Get(s.ctx, "k", &v), ErrClientClosed)
}

func (s *RedisSuite) TestCache_SetGetDelete() {
	c := NewCache(s.client, "vals", nil, WithJitter(0))
	type payload struct {
		A int     `json:"a"`
		B float64 `json:"b"`
	}
	s.Require().NoError(c.Set(s.ctx, "k1", payload{A: 1, B: 0.1}, time.Minute))
	s.True(s.mr.Exists("t:vals:k1"))
	s.Equal(time.Minute, s.mr.TTL("t:vals:k1"))

	var got payload
	s.Require().NoError(c.Get(s.ctx, "k1", &got))
	s.Equal(payload{A: 1, B: 0.1}, got)

	s.Require().NoError(c.Delete(s.ctx, "k1"))
	s.ErrorIs(c.Get(s.ctx, "k1", &got), ErrCacheMiss)
	s.NoError(c.Delete(s.ctx))
}

func (s *RedisSuite) TestCache_Expiry() {
	c := NewCache(s.client, "vals", nil, WithJitter(0))
	s.Require().NoError(c.Set(s.ctx, "k", 1, time.Second))
	s.mr.FastForward(2 * time.Second)
	var v int
	s.ErrorIs(c.Get(s.ctx, "k", &v), ErrCacheMiss)
}

func (s *RedisSuite) TestCache_JitterBounds() {
	c := NewCache(s.client, "vals", nil, WithDefaultTTL(100*time.Second), WithJitter(0.1))
	for i := 0; i < 50; i++ {
		ttl := c.ttl(0)
		s.GreaterOrEqual(ttl, 90*time.Second)
		s.LessOrEqual(ttl, 110*time.Second)
	}
}

func (s *RedisSuite) TestCache_CorruptEntryIsMiss() {
	c := NewCache(s.client, "vals", nil)
	s.Require().NoError(s.mr.Set("t:vals:bad", "{not json"))
	var v map[string]int
	s.ErrorIs(c.Get(s.ctx, "bad", &v), ErrCacheMiss)
	s.False(s.mr.Exists("t:vals:bad"))
}

func (s *RedisSuite) TestCache_Flush() {
	c := NewCache(s.client, "vals", nil)
	other := NewCache(s.client, "other", nil)
	for _, k := range []string{"a", "b", "c"} {
		s.Require().NoError(c.Set(s.ctx, k, k, 0))
	}
	s.Require().NoError(other.Set(s.ctx, "a", 1, 0))

	n, err := c.Flush(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(3, n)
	s.True(s.mr.Exists("t:other:a"))
}

func (s *RedisSuite) TestSetCache_RoundTrip() {
	c := NewSetCache(s.client, time.Hour, nil)
	set := coefficient.NewSet("na", "Na")
	set.Coefficients[0] = 1.5
	set.Coefficients[923] = -2.25e-7
	set.Finalize(time.Now())

	_, err := c.Get(s.ctx, set.ID)
	s.ErrorIs(err, coefficient.ErrCacheMiss)

	s.Require().NoError(c.Put(s.ctx, set))
	got, err := c.Get(s.ctx, set.ID)
	s.Require().NoError(err)
	s.Equal(set.Coefficients, got.Coefficients)
	s.Equal(set.Params, got.Params)
	s.Equal(set.Checksum, got.Checksum)

	s.Require().NoError(c.Invalidate(s.ctx, set.ID))
	_, err = c.Get(s.ctx, set.ID)
	s.ErrorIs(err, coefficient.ErrCacheMiss)
}

func (s *RedisSuite) TestSetCache_ChecksumMismatchIsMiss() {
	c := NewSetCache(s.client, time.Hour, nil)
	set := coefficient.NewSet("na", "Na")
	set.Finalize(time.Now())
	set.Checksum = "tampered"
	s.Require().NoError(c.Put(s.ctx, set))

	_, err := c.Get(s.ctx, set.ID)
	s.ErrorIs(err, coefficient.ErrCacheMiss)
}

func (s *RedisSuite) TestMutex_Exclusive() {
	a := NewMutex(s.client, "migrate", nil, WithRetry(3, 10*time.Millisecond))
	b := NewMutex(s.client, "migrate", nil, WithRetry(3, 10*time.Millisecond))

	s.Require().NoError(a.Lock(s.ctx))
	ok, err := b.TryLock(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	err = b.Lock(s.ctx)
	s.True(errors.IsCode(err, errors.ErrCodeConflict))

	s.Require().NoError(a.Unlock(s.ctx))
	s.Require().NoError(b.Lock(s.ctx))
	s.True(errors.IsCode(a.Unlock(s.ctx), errors.ErrCodeConflict))
	s.Require().NoError(b.Unlock(s.ctx))
}

func (s *RedisSuite) TestMutex_WithLock() {
	m := NewMutex(s.client, "job", nil)
	ran := false
	err := m.WithLock(s.ctx, func(context.Context) error {
		ran = true
		s.True(s.mr.Exists("t:lock:job"))
		return nil
	})
	s.Require().NoError(err)
	s.True(ran)
	s.False(s.mr.Exists("t:lock:job"))
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestNewClientFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "", nil)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "a", c.Key("a"))
}
