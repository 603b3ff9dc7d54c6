package middleware

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket. One instance guards one
// websocket connection's inbound frames.
type RateLimiter struct {
	token    int32
	rate     time.Duration
	burst    int32
	lastTick int64
}

func NewRateLimiter(burst int32, rate time.Duration) *RateLimiter {
	return &RateLimiter{
		token:    burst,
		rate:     rate,
		burst:    burst,
		lastTick: time.Now().UnixNano(),
	}
}

func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()

	last := atomic.LoadInt64(&l.lastTick)

	// lastTick and rate are both in nanoseconds
	elapsed := now - last

	generated := int32(elapsed / int64(l.rate))

	if generated > 0 {
		if atomic.CompareAndSwapInt64(&l.lastTick, last, now) {
			current := atomic.LoadInt32(&l.token)
			newBalance := current + generated

			if newBalance > l.burst {
				newBalance = l.burst
			}
			atomic.StoreInt32(&l.token, newBalance)
		}
	}

	for {
		current := atomic.LoadInt32(&l.token)

		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.token, current, current-1) {
			return true
		}
	}
}
