package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/mkb/internal/pkg/errcode"
	"github.com/xxxsen/mkb/internal/pkg/response"
)

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// rateLimiter keeps one token bucket per user and route.
type rateLimiter struct {
	mu            sync.Mutex
	limit         rate.Limit
	burst         int
	buckets       map[string]*bucket
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

// RateLimit allows perMinute requests per user and route with the given
// burst. A non positive perMinute disables limiting.
func RateLimit(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := &rateLimiter{
		limit:         rate.Limit(float64(perMinute) / 60),
		burst:         burst,
		buckets:       make(map[string]*bucket),
		sweepInterval: 10 * time.Minute,
		now:           time.Now,
	}
	return limiter.handle
}

func (l *rateLimiter) key(c *gin.Context) (string, string, string) {
	ip := c.ClientIP()
	uid := "0"
	if v, ok := c.Get(ContextUserIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			uid = id
		}
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return strings.Join([]string{ip, uid, path}, "|"), uid, path
}

func (l *rateLimiter) handle(c *gin.Context) {
	key, uid, path := l.key(c)
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.cleanupExpiredLocked(now)
		l.lastSweep = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()
	if !allowed {
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("user_id", uid),
			zap.String("path", path),
		)
		response.Abort(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		return
	}
	c.Next()
}

// cleanupExpiredLocked drops buckets idle for a whole sweep interval.
func (l *rateLimiter) cleanupExpiredLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.sweepInterval {
			delete(l.buckets, key)
		}
	}
}
