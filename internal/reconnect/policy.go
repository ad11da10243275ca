// Package reconnect decides how long a channel waits before redialing and
// when it should give up. It holds no state: the attempt counter belongs to
// the caller.
package reconnect

import "time"

const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 20
)

// Policy is an exponential backoff with a ceiling on both the delay and the
// number of scheduled attempts.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Default returns the 1s/30s/20 policy used by live channels.
func Default() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay). Negative attempts are
// treated as zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// ShouldRetry reports whether another attempt may be scheduled after
// attempt previous ones.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}
