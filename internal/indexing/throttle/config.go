package throttle

import "time"

// Config holds pacing bounds between consecutive remote calls.
type Config struct {
	// Delay bounds
	MinDelay time.Duration // Baseline spacing between calls (default: 1s)
	MaxDelay time.Duration // Ceiling after repeated failures (default: 60s)

	// FailureFactor multiplies the delay after a failed call (default: 2)
	FailureFactor float64

	// RecoveryStreak is the number of consecutive successes that halves the delay (default: 5)
	RecoveryStreak int
}

// DefaultConfig returns sensible defaults for pacing.
func DefaultConfig() Config {
	return Config{
		MinDelay:       1 * time.Second,
		MaxDelay:       60 * time.Second,
		FailureFactor:  2,
		RecoveryStreak: 5,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.FailureFactor < 1 {
		c.FailureFactor = def.FailureFactor
	}
	if c.RecoveryStreak <= 0 {
		c.RecoveryStreak = def.RecoveryStreak
	}
	return c
}
