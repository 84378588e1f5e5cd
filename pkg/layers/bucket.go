package layers

import (
	"sync"
	"time"
)

// TokenBucket shapes send rates, refilling rate tokens every period.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64
	period   time.Duration
	last     time.Time
}

func NewTokenBucket(rate int64, period time.Duration, capacity int64) *TokenBucket {
	if capacity <= 0 {
		capacity = rate
	}
	if period <= 0 {
		period = time.Second
	}
	return &TokenBucket{capacity: capacity, tokens: capacity, rate: rate, period: period, last: time.Now()}
}

// Allow tries to consume n tokens; if not enough, returns how long to wait.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	dt := now.Sub(b.last)
	if dt > 0 {
		add := (b.rate * dt.Nanoseconds()) / b.period.Nanoseconds()
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	nanos := (need * b.period.Nanoseconds()) / b.rate
	return false, time.Duration(nanos)
}
