package throttle

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between remote calls regardless of their
// outcome. The spacing grows after failures and decays back toward MinDelay
// after a streak of successes.
type Pacer struct {
	config Config
	clock  Clock

	mu      sync.Mutex
	delay   time.Duration
	last    time.Time
	started bool
	streak  int
}

// NewPacer creates a new pacer starting at MinDelay.
func NewPacer(config Config, clock Clock) *Pacer {
	config = config.WithDefaults()
	if clock == nil {
		clock = RealClock{}
	}
	return &Pacer{
		config: config,
		clock:  clock,
		delay:  config.MinDelay,
	}
}

// Wait blocks until the current delay has elapsed since the previous call
// started, then marks a new call as started. The first call does not wait.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	var wait time.Duration
	if p.started {
		wait = p.delay - p.clock.Now().Sub(p.last)
	}
	p.mu.Unlock()

	if wait > 0 {
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.last = p.clock.Now()
	p.started = true
	p.mu.Unlock()
	return nil
}

// OnSuccess records a successful call.
func (p *Pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streak++
	if p.streak >= p.config.RecoveryStreak && p.delay > p.config.MinDelay {
		p.delay = max(p.delay/2, p.config.MinDelay)
		p.streak = 0
	}
}

// OnFailure records a failed call.
func (p *Pacer) OnFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streak = 0
	next := time.Duration(float64(max(p.delay, time.Millisecond)) * p.config.FailureFactor)
	p.delay = min(next, p.config.MaxDelay)
}

// SetMinDelay changes the baseline spacing. A delay sitting at the old baseline
// moves to the new one; a raised delay is kept unless it falls below d.
func (p *Pacer) SetMinDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d = max(d, 0)
	if p.delay == p.config.MinDelay || p.delay < d {
		p.delay = d
	}
	p.config.MinDelay = d
	p.config.MaxDelay = max(p.config.MaxDelay, d)
}

// CurrentDelay returns the spacing currently enforced (for metrics).
func (p *Pacer) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}
