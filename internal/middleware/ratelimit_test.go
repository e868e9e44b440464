package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestLimiter(now func() time.Time) *rateLimiter {
	return &rateLimiter{
		limit:         rate.Limit(1.0 / 60),
		burst:         1,
		buckets:       make(map[string]*bucket),
		sweepInterval: 10 * time.Second,
		now:           now,
	}
}

func TestRateLimiterHandle_BlocksWithinWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := newTestLimiter(func() time.Time { return now })

	c1, _ := gin.CreateTestContext(httptest.NewRecorder())
	c1.Request = httptest.NewRequest("POST", "/api/v1/retrieve", nil)
	limiter.handle(c1)
	require.False(t, c1.IsAborted())

	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest("POST", "/api/v1/retrieve", nil)
	limiter.handle(c2)
	require.True(t, c2.IsAborted())

	now = now.Add(61 * time.Second)
	c3, _ := gin.CreateTestContext(httptest.NewRecorder())
	c3.Request = httptest.NewRequest("POST", "/api/v1/retrieve", nil)
	limiter.handle(c3)
	require.False(t, c3.IsAborted())
}

func TestRateLimiterSeparatesUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := newTestLimiter(func() time.Time { return now })
	for _, uid := range []string{"u1", "u2"} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("POST", "/api/v1/retrieve", nil)
		c.Set(ContextUserIDKey, uid)
		limiter.handle(c)
		require.False(t, c.IsAborted())
	}
}

func TestRateLimiterCleanupExpiredLocked_RemovesExpiredEntries(t *testing.T) {
	base := time.Now()
	limiter := newTestLimiter(time.Now)
	limiter.buckets["expired"] = &bucket{limiter: rate.NewLimiter(1, 1), seen: base.Add(-20 * time.Second)}
	limiter.buckets["active"] = &bucket{limiter: rate.NewLimiter(1, 1), seen: base.Add(-2 * time.Second)}

	limiter.mu.Lock()
	limiter.cleanupExpiredLocked(base)
	limiter.mu.Unlock()

	require.NotContains(t, limiter.buckets, "expired")
	require.Contains(t, limiter.buckets, "active")
}
