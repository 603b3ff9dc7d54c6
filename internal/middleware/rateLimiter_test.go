package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDeny(t *testing.T) {
	l := NewRateLimiter(2, time.Hour)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst spent, no refill due yet")
}

func TestTokensRefillAfterRateWindow(t *testing.T) {
	l := NewRateLimiter(2, 50*time.Millisecond)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	time.Sleep(120 * time.Millisecond)

	assert.True(t, l.Allow(), "elapsed rate windows must generate tokens")
}

func TestRefillNeverExceedsBurst(t *testing.T) {
	l := NewRateLimiter(2, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond) // many windows elapse

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "refill is capped at the burst size")
}
