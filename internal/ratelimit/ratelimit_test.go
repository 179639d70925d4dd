package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rpm, burst int) (*Limiter, *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, IdleTTL: time.Minute})
	l.now = clk.now
	return l, clk
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, clk := newTestLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	clk.advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.Allow("a")
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	l, clk := newTestLimiter(600, 2)
	defer l.Stop()

	l.Allow("k")
	clk.advance(time.Hour)

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestLimiter_ZeroRateDisables(t *testing.T) {
	l, _ := newTestLimiter(0, 0)
	defer l.Stop()

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}
}

func TestLimiter_EvictIdle(t *testing.T) {
	l, clk := newTestLimiter(60, 1)
	defer l.Stop()

	l.Allow("old")
	clk.advance(2 * time.Minute)
	l.Allow("fresh")
	l.evictIdle()

	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(600)
	assert.Equal(t, 600, cfg.RequestsPerMinute)
	assert.Equal(t, 60, cfg.BurstSize)

	assert.Equal(t, 1, DefaultConfig(5).BurstSize)
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(30, 1)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/detect_fraud", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/detect_fraud", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/detect_fraud", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}
