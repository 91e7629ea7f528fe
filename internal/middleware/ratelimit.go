package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/user/shortlink/internal/config"
	"github.com/user/shortlink/internal/models"
)

const (
	// Buckets idle longer than this are dropped by the eviction loop.
	bucketIdleTimeout = 3 * time.Minute

	// evictionInterval is how often the background sweep runs.
	evictionInterval = 60 * time.Second
)

// RateLimiter keeps one token bucket per client IP. Buckets live in
// process memory - a multi-node deployment rate-limits per node, which
// is the accepted trade for never touching the network on the hot
// path.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	rps   rate.Limit
	burst int

	stop chan struct{}
	done chan struct{}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds the limiter; call StartEviction to launch the
// idle-bucket sweep.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Limit rejects callers whose bucket is empty with 429 plus
// Retry-After and X-RateLimit-After headers.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := GetClientMeta(c)

		if !rl.allow(meta.IP) {
			retryAfter := rl.retryAfterSeconds()
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.Header("X-RateLimit-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests,
				models.Error("Too many requests", http.StatusTooManyRequests))
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// retryAfterSeconds approximates when one token will be back,
// rounded up so clients never retry early.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.rps <= 0 {
		return 1
	}
	secs := int(1/float64(rl.rps)) + 1
	return secs
}

// StartEviction launches the 60 s sweep that drops buckets idle for
// three minutes or more.
func (rl *RateLimiter) StartEviction() {
	go func() {
		defer close(rl.done)
		ticker := time.NewTicker(evictionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.evictIdle(time.Now())
			case <-rl.stop:
				return
			}
		}
	}()
}

// Stop terminates the eviction loop and waits for it to exit.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
	<-rl.done
}

// evictIdle holds the lock only long enough to drop idle entries.
func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, b := range rl.clients {
		if now.Sub(b.lastSeen) >= bucketIdleTimeout {
			delete(rl.clients, ip)
		}
	}
}

// ClientCount reports the live bucket count. Used by tests and the
// eviction sweep's own logging.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
