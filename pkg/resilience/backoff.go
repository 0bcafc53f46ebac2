package resilience

import "time"

// BackoffPolicy produces bounded, exponentially growing delays between
// reconnection attempts. Attempt numbering starts at 1.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewBackoffPolicy(maxAttempts int, base, max time.Duration) BackoffPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 || max < base {
		max = 30 * time.Second
	}
	return BackoffPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max}
}

// Delay returns the wait before the given attempt: base doubled per prior
// attempt, capped at MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Exhausted reports whether the attempt budget is spent.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
