package throttle

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func TestPacer_EnforcesMinimumSpacing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pacer := NewPacer(Config{MinDelay: 2 * time.Second}, clock)
	ctx := context.Background()

	var starts []time.Time
	for i := 0; i < 4; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		starts = append(starts, clock.now)
		// Each call takes some time; only the remainder should be slept
		clock.now = clock.now.Add(500 * time.Millisecond)
		pacer.OnSuccess()
	}

	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 2*time.Second {
			t.Errorf("gap between call %d and %d = %v, want >= 2s", i-1, i, gap)
		}
	}
	if len(clock.sleeps) != 3 || clock.sleeps[0] != 1500*time.Millisecond {
		t.Errorf("sleeps = %v, want three sleeps of 1.5s", clock.sleeps)
	}
}

func TestPacer_BacksOffAndRecovers(t *testing.T) {
	config := Config{
		MinDelay:       time.Second,
		MaxDelay:       5 * time.Second,
		FailureFactor:  2,
		RecoveryStreak: 2,
	}
	pacer := NewPacer(config, &fakeClock{})

	tests := []struct {
		name   string
		action func()
		want   time.Duration
	}{
		{"first failure doubles", pacer.OnFailure, 2 * time.Second},
		{"second failure doubles", pacer.OnFailure, 4 * time.Second},
		{"third failure caps at max", pacer.OnFailure, 5 * time.Second},
		{"one success keeps delay", pacer.OnSuccess, 5 * time.Second},
		{"streak halves delay", pacer.OnSuccess, 2500 * time.Millisecond},
		{"next streak halves again", func() { pacer.OnSuccess(); pacer.OnSuccess() }, 1250 * time.Millisecond},
		{"floor at min delay", func() { pacer.OnSuccess(); pacer.OnSuccess() }, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.action()
			if got := pacer.CurrentDelay(); got != tt.want {
				t.Errorf("CurrentDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPacer_SetMinDelay(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pacer := NewPacer(Config{MinDelay: time.Second, MaxDelay: 10 * time.Second}, clock)

	pacer.SetMinDelay(1500 * time.Millisecond)
	if got := pacer.CurrentDelay(); got != 1500*time.Millisecond {
		t.Errorf("delay at baseline = %v, want 1.5s", got)
	}

	pacer.OnFailure()
	pacer.SetMinDelay(time.Second)
	if got := pacer.CurrentDelay(); got != 3*time.Second {
		t.Errorf("raised delay = %v, want 3s kept", got)
	}

	pacer.SetMinDelay(20 * time.Second)
	if got := pacer.CurrentDelay(); got != 20*time.Second {
		t.Errorf("delay below new baseline = %v, want 20s", got)
	}
	pacer.OnFailure()
	if got := pacer.CurrentDelay(); got != 20*time.Second {
		t.Errorf("failure above baseline = %v, want capped at 20s", got)
	}
}

func TestPacer_SpacingSurvivesMinDelayChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pacer := NewPacer(Config{MinDelay: time.Second}, clock)
	ctx := context.Background()

	_ = pacer.Wait(ctx)
	pacer.SetMinDelay(2 * time.Second)
	if err := pacer.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want one sleep of 2s", clock.sleeps)
	}
}

func TestPacer_WaitHonorsCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pacer := NewPacer(Config{MinDelay: time.Minute}, clock)
	_ = pacer.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pacer.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{MinDelay: 10 * time.Second, MaxDelay: time.Second}.WithDefaults()
	if c.MaxDelay != 10*time.Second {
		t.Errorf("MaxDelay = %v, want raised to MinDelay", c.MaxDelay)
	}
	if c.FailureFactor != 2 || c.RecoveryStreak != 5 {
		t.Errorf("defaults not applied: %+v", c)
	}
}
