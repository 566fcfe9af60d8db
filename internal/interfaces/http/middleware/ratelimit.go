package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// RateLimiter decides whether the request identified by key may proceed.
type RateLimiter interface {
	Allow(key string) (bool, RateLimitInfo)
}

type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter keeps one bucket per key in memory. Idle buckets are
// dropped every cleanup interval.
type TokenBucketLimiter struct {
	rate            float64
	burst           int
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	stop    chan struct{}
	once    sync.Once
}

func NewTokenBucketLimiter(rate float64, burst int, cleanupInterval time.Duration) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		rate:            rate,
		burst:           burst,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		buckets:         make(map[string]*tokenBucket),
		stop:            make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *TokenBucketLimiter) Allow(key string) (bool, RateLimitInfo) {
	now := l.now()

	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		if b, ok = l.buckets[key]; !ok {
			b = &tokenBucket{tokens: float64(l.burst), lastRefill: now}
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += now.Sub(b.lastRefill).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastRefill = now

	info := RateLimitInfo{Limit: l.burst, ResetAt: now.Add(time.Duration(float64(time.Second) / l.rate))}
	if b.tokens >= 1 {
		b.tokens--
		info.Remaining = int(b.tokens)
		return true, info
	}
	return false, info
}

func (l *TokenBucketLimiter) cleanupLoop() {
	t := time.NewTicker(l.cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *TokenBucketLimiter) cleanup() {
	threshold := l.now().Add(-l.cleanupInterval)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		b.mu.Lock()
		if b.lastRefill.Before(threshold) {
			delete(l.buckets, k)
		}
		b.mu.Unlock()
	}
}

func (l *TokenBucketLimiter) Stop() { l.once.Do(func() { close(l.stop) }) }

func (l *TokenBucketLimiter) BucketCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// RateLimit answers 429 once the client IP exhausts its bucket. Probes are
// never limited.
func RateLimit(limiter RateLimiter, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		allowed, info := limiter.Allow(c.ClientIP())
		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
		if !allowed {
			retry := int(time.Until(info.ResetAt).Seconds()) + 1
			h.Set("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handlers.ErrorResponse{
				Code:      string(errors.ErrCodeRateLimit),
				Message:   "rate limit exceeded",
				RequestID: c.GetString(handlers.RequestIDKey),
			})
			return
		}
		c.Next()
	}
}
