package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeConflict, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

// Mutex is a single-owner lease in redis. It is used to serialize startup
// work across replicas, such as schema migrations.
type Mutex struct {
	client *Client
	key    string
	token  string
	logger logging.Logger

	ttl        time.Duration
	retryDelay time.Duration
	retryCount int

	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

type LockOption func(*Mutex)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(m *Mutex) { m.ttl = ttl }
}

func WithRetry(count int, delay time.Duration) LockOption {
	return func(m *Mutex) { m.retryCount, m.retryDelay = count, delay }
}

func NewMutex(client *Client, name string, log logging.Logger, opts ...LockOption) *Mutex {
	if log == nil {
		log = logging.NewNopLogger()
	}
	m := &Mutex{
		client:     client,
		key:        client.Key("lock", name),
		token:      uuid.NewString(),
		logger:     log,
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 300,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TryLock acquires the lease once without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.rdb.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to set lock")
	}
	if ok {
		m.startWatchdog()
	}
	return ok, nil
}

// Lock retries TryLock until it succeeds, ctx ends or the retries run out.
// The lease is renewed in the background until Unlock.
func (m *Mutex) Lock(ctx context.Context) error {
	for i := 0; i < m.retryCount; i++ {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
	return ErrLockNotAcquired.WithDetail(m.key)
}

func (m *Mutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := unlockScript.Run(ctx, m.client.rdb, []string{m.key}, m.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if res == 0 {
		return ErrLockNotHeld.WithDetail(m.key)
	}
	return nil
}

func (m *Mutex) extend(ctx context.Context) (bool, error) {
	res, err := extendScript.Run(ctx, m.client.rdb, []string{m.key}, m.token, m.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (m *Mutex) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})

	go func() {
		defer close(m.watchdogDone)
		ticker := time.NewTicker(m.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.extend(ctx)
				if err != nil {
					if ctx.Err() == nil {
						m.logger.Error("lock watchdog failed to extend", logging.String("key", m.key), logging.Err(err))
					}
					return
				}
				if !ok {
					m.logger.Warn("lock watchdog lost lease", logging.String("key", m.key))
					return
				}
			}
		}
	}()
}

func (m *Mutex) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		<-m.watchdogDone
		m.watchdogCancel = nil
	}
}

// WithLock runs fn while holding the mutex.
func (m *Mutex) WithLock(ctx context.Context, fn func(context.Context) error) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Unlock(context.Background()); err != nil {
			m.logger.Warn("failed to release lock", logging.String("key", m.key), logging.Err(err))
		}
	}()
	return fn(ctx)
}
