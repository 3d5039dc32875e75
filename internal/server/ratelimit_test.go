package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedLimiter(perMinute, perHour, perDay int, dataPerDay int64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMinute, perHour, perDay, dataPerDay)
	rl.now = clock.now
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 1024*1024)

	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.NotNil(t, rl.clients)
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client", 100))
	}
	usage := rl.GetUsage("client")
	assert.Equal(t, 100, usage.Today)
	assert.Equal(t, int64(10000), usage.BytesToday)
	assert.Equal(t, Usage{}, rl.GetUsage("unknown"))
}

func TestRateLimiter_MinuteWindowSlides(t *testing.T) {
	rl, clock := newClockedLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("c", 0))
	clock.advance(30 * time.Second)
	require.NoError(t, rl.CheckRateLimit("c", 0))

	err := rl.CheckRateLimit("c", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)

	// The first request leaves the window after one minute.
	clock.advance(31 * time.Second)
	require.NoError(t, rl.CheckRateLimit("c", 0))
}

func TestRateLimiter_HourLimit(t *testing.T) {
	rl, clock := newClockedLimiter(0, 3, 0, 0)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("c", 0))
		clock.advance(10 * time.Minute)
	}
	err := rl.CheckRateLimit("c", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 30*time.Minute, rle.RetryAfter)

	clock.advance(31 * time.Minute)
	require.NoError(t, rl.CheckRateLimit("c", 0))
	assert.Equal(t, 3, rl.GetUsage("c").LastHour)
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	t.Run("requests", func(t *testing.T) {
		rl, clock := newClockedLimiter(0, 0, 2, 0)
		require.NoError(t, rl.CheckRateLimit("c", 0))
		require.NoError(t, rl.CheckRateLimit("c", 0))

		var qe *QuotaExceededError
		require.ErrorAs(t, rl.CheckRateLimit("c", 0), &qe)
		assert.Equal(t, "requests", qe.Type)
		assert.Equal(t, int64(2), qe.Used)
		assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), qe.Resets)

		// Quota resets on the next day.
		clock.advance(12 * time.Hour)
		require.NoError(t, rl.CheckRateLimit("c", 0))
	})

	t.Run("data", func(t *testing.T) {
		rl, _ := newClockedLimiter(0, 0, 0, 1000)
		require.NoError(t, rl.CheckRateLimit("c", 600))

		var qe *QuotaExceededError
		require.ErrorAs(t, rl.CheckRateLimit("c", 500), &qe)
		assert.Equal(t, "data", qe.Type)
		assert.Equal(t, int64(600), qe.Used)

		// A rejected request does not count.
		require.NoError(t, rl.CheckRateLimit("c", 400))
	})
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(1000, 0, 0, 0)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = rl.CheckRateLimit("shared", int64(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, rl.GetUsage("shared").Today)
}

func TestRateLimitErrors_Messages(t *testing.T) {
	rle := &RateLimitError{Type: "minute", Limit: 10, RetryAfter: 30 * time.Second}
	assert.Contains(t, rle.Error(), "rate limit exceeded for minute")

	qe := &QuotaExceededError{Type: "data", Limit: 10, Used: 5, Resets: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, qe.Error(), "quota exceeded for data")
	assert.Contains(t, qe.Error(), "2026-01-01T00:00:00Z")
}
