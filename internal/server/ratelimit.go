package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request windows and daily quotas.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage holds the request timestamps of the last hour and the
// counters of the current day.
type clientUsage struct {
	recent   []time.Time
	day      time.Time
	dayCount int
	dayBytes int64
}

// Usage is a snapshot of one client's consumption.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	BytesToday int64
}

// NewRateLimiter creates a limiter. A zero limit disables that check.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// CheckRateLimit admits one request of dataSize bytes from clientID or
// returns a *RateLimitError or *QuotaExceededError.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(clientID, now)
	u.prune(now)

	if rl.requestsPerMinute > 0 {
		if n, oldest := u.since(now.Add(-time.Minute)); n >= rl.requestsPerMinute {
			return &RateLimitError{Type: "minute", Limit: rl.requestsPerMinute, RetryAfter: oldest.Add(time.Minute).Sub(now)}
		}
	}
	if rl.requestsPerHour > 0 && len(u.recent) >= rl.requestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.requestsPerHour, RetryAfter: u.recent[0].Add(time.Hour).Sub(now)}
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && u.dayCount >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.maxRequestsPerDay), Used: int64(u.dayCount), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && u.dayBytes+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.maxDataPerDay, Used: u.dayBytes, Resets: resets}
	}

	u.recent = append(u.recent, now)
	u.dayCount++
	u.dayBytes += dataSize
	return nil
}

// GetUsage returns the current consumption of clientID.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return Usage{}
	}
	now := rl.now()
	minute, _ := u.since(now.Add(-time.Minute))
	hour, _ := u.since(now.Add(-time.Hour))
	return Usage{LastMinute: minute, LastHour: hour, Today: u.dayCount, BytesToday: u.dayBytes}
}

func (rl *RateLimiter) usage(clientID string, now time.Time) *clientUsage {
	today := startOfDay(now)
	u, ok := rl.clients[clientID]
	if !ok {
		u = &clientUsage{day: today}
		rl.clients[clientID] = u
	}
	if !u.day.Equal(today) {
		u.day = today
		u.dayCount = 0
		u.dayBytes = 0
	}
	return u
}

// prune drops timestamps older than one hour.
func (u *clientUsage) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(u.recent) && !u.recent[i].After(cutoff) {
		i++
	}
	u.recent = u.recent[i:]
}

// since counts requests after t and returns the oldest of them.
func (u *clientUsage) since(t time.Time) (int, time.Time) {
	for i, ts := range u.recent {
		if ts.After(t) {
			return len(u.recent) - i, ts
		}
	}
	return 0, time.Time{}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
