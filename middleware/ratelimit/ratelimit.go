// Package ratelimit applies a per-client token bucket to the chain.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/routed/routed/router"
)

// KeyFunc derives the bucket key for a request. The default keys by client IP.
type KeyFunc func(c *router.Context) string

// Config controls the bucket shape.
type Config struct {
	// Rate is the sustained refill rate in requests per second.
	Rate float64
	// Burst is the bucket capacity. Zero defaults to the ceiling of Rate.
	Burst int
	// Key overrides the default per-client-IP keying.
	Key KeyFunc
	// IdleEviction drops buckets untouched for this long. Zero means 3m.
	IdleEviction time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Handler tracks one token bucket per key.
type Handler struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	sweepAt time.Time
}

// New creates a rate limit handler.
func New(cfg Config) *Handler {
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate)
		if float64(cfg.Burst) < cfg.Rate {
			cfg.Burst++
		}
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.Key == nil {
		cfg.Key = func(c *router.Context) string { return c.ClientIP() }
	}
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = 3 * time.Minute
	}
	return &Handler{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		sweepAt: time.Now().Add(cfg.IdleEviction),
	}
}

// Middleware returns the chain handler.
func (h *Handler) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		lim := h.limiterFor(h.cfg.Key(c))
		res := lim.Reserve()
		if !res.OK() {
			h.reject(c, time.Second)
			return
		}
		delay := res.Delay()
		if delay > 0 {
			res.Cancel()
			h.reject(c, delay)
			return
		}
		c.Next()
	}
}

func (h *Handler) reject(c *router.Context, wait time.Duration) {
	secs := retryAfterSeconds(wait)
	c.Writer.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	c.Writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	c.Writer.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(c.Writer, `{"error":"too_many_requests","retry_after":%d}`, secs)
	c.Abort()
}

// retryAfterSeconds rounds up: any positive sub-second remainder counts as a
// full second, and the result is never below one.
func retryAfterSeconds(wait time.Duration) int64 {
	secs := int64(wait / time.Second)
	if wait%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (h *Handler) limiterFor(key string) *rate.Limiter {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if now.After(h.sweepAt) {
		for k, b := range h.buckets {
			if now.Sub(b.lastSeen) > h.cfg.IdleEviction {
				delete(h.buckets, k)
			}
		}
		h.sweepAt = now.Add(h.cfg.IdleEviction)
	}

	b, ok := h.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(h.cfg.Rate), h.cfg.Burst)}
		h.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}
