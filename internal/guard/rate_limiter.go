package guard

import (
	"sync"
	"time"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 100
)

// RateLimiter: скользящее окно запросов на идентификатор (webhook).
type RateLimiter struct {
	window      time.Duration
	maxRequests int
	now         func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time
}

func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		now:         time.Now,
		requests:    make(map[string][]time.Time),
	}
}

// WithClock подменяет часы (для тестов).
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Check чистит устаревшие отметки и пропускает запрос, если окно не заполнено.
func (l *RateLimiter) Check(id string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(l.requests[id], now)
	if len(valid) >= l.maxRequests {
		l.requests[id] = valid
		return false
	}
	l.requests[id] = append(valid, now)
	return true
}

// RetryAfter возвращает, через сколько освободится место в окне.
func (l *RateLimiter) RetryAfter(id string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(l.requests[id], now)
	l.requests[id] = valid
	if len(valid) < l.maxRequests {
		return 0
	}
	return valid[0].Add(l.window).Sub(now)
}

func (l *RateLimiter) Reset(id string) {
	l.mu.Lock()
	delete(l.requests, id)
	l.mu.Unlock()
}

// Sweep выкидывает идентификаторы без живых отметок; возвращает сколько удалено.
func (l *RateLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, ts := range l.requests {
		valid := l.prune(ts, now)
		if len(valid) == 0 {
			delete(l.requests, id)
			removed++
			continue
		}
		l.requests[id] = valid
	}
	return removed
}

func (l *RateLimiter) Window() time.Duration { return l.window }

// отметки упорядочены, ищем первую живую
func (l *RateLimiter) prune(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= l.window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
