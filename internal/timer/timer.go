// Package timer computes disappearing-message expiry. Everything here
// is a pure function of message attributes and a caller-supplied clock
// reading; callers schedule their own checks and never rely solely on
// pushed expiry events.
package timer

import "time"

type State int

const (
	// StateNone: no timer on the message, it never expires.
	StateNone State = iota
	// StateCounting: a fixed-duration timer is running.
	StateCounting
	// StatePendingView: view-once message not yet seen by a non-sender.
	StatePendingView
	// StateExpired: terminal.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCounting:
		return "counting"
	case StatePendingView:
		return "pending_view"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Timer sentinel values, mirrored from the message model.
const (
	DurationNone     = 0
	DurationViewOnce = -1
)

// ExpiresAt returns the authoritative expiry timestamp assigned at send
// time, or nil for untimed and view-once messages. Durations below the
// view-once sentinel are clamped to "no timer" rather than rejected.
func ExpiresAt(createdAt time.Time, timerDuration int) *time.Time {
	if timerDuration <= 0 {
		return nil
	}
	t := createdAt.Add(time.Duration(timerDuration) * time.Second)
	return &t
}

// Eval reports the timer state for a message. firstViewAt is the
// timestamp of the first non-sender view, nil if none recorded yet.
func Eval(timerDuration int, createdAt time.Time, firstViewAt *time.Time, now time.Time) State {
	switch {
	case timerDuration == DurationViewOnce:
		if firstViewAt != nil && !now.Before(*firstViewAt) {
			return StateExpired
		}
		return StatePendingView
	case timerDuration <= 0:
		return StateNone
	}
	exp := createdAt.Add(time.Duration(timerDuration) * time.Second)
	if !now.Before(exp) {
		return StateExpired
	}
	return StateCounting
}

// Remaining returns whole-duration-clamped remaining time for a fixed
// timer. A createdAt in the future (clock skew) counts as zero elapsed,
// so the result is clamped to the full duration. Untimed messages
// report zero; callers must check Eval first to tell the cases apart.
func Remaining(timerDuration int, createdAt time.Time, firstViewAt *time.Time, now time.Time) time.Duration {
	switch Eval(timerDuration, createdAt, firstViewAt, now) {
	case StateNone, StateExpired:
		return 0
	case StatePendingView:
		return 0
	}
	total := time.Duration(timerDuration) * time.Second
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

// Progress returns elapsed/duration clamped to [0,1] for countdown UI.
// Untimed and pending-view messages report 0, expired ones 1.
func Progress(timerDuration int, createdAt time.Time, firstViewAt *time.Time, now time.Time) float64 {
	switch Eval(timerDuration, createdAt, firstViewAt, now) {
	case StateNone, StatePendingView:
		return 0
	case StateExpired:
		return 1
	}
	total := time.Duration(timerDuration) * time.Second
	elapsed := now.Sub(createdAt)
	if elapsed <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}
