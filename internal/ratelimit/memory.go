package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/oems/oems/internal/models"
)

// MemoryLimiter keeps counters in process memory. State is lost on restart and
// is not shared between instances; use RedisLimiter for multi-instance setups.
type MemoryLimiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	entries sync.Map // key -> *entry
}

type entry struct {
	mu sync.Mutex
	models.RateLimitEntry
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	value, loaded := l.entries.LoadOrStore(key, &entry{
		RateLimitEntry: models.RateLimitEntry{Count: 1, WindowStart: now},
	})
	if !loaded {
		return true, nil
	}

	e := value.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Sub(e.WindowStart) > l.window {
		e.Count = 1
		e.WindowStart = now
		return true, nil
	}

	if e.Count < l.limit {
		e.Count++
		return true, nil
	}

	return false, nil
}

func (l *MemoryLimiter) RetryAfter() time.Duration {
	return l.window
}

// Snapshot returns a copy of the counter for key, if any.
func (l *MemoryLimiter) Snapshot(key string) (models.RateLimitEntry, bool) {
	value, ok := l.entries.Load(key)
	if !ok {
		return models.RateLimitEntry{}, false
	}
	e := value.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.RateLimitEntry, true
}
