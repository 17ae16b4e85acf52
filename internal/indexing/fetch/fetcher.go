package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/metrics"
	"github.com/vietddude/statsync/internal/indexing/throttle"
	"github.com/vietddude/statsync/internal/infra/source"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig provides sensible defaults: 3 attempts, waiting 2s then 4s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Outcome is the result of fetching one work item. Fetch never returns a Go
// error; failures are reported here with their classification.
type Outcome struct {
	Result   *domain.ResultSet
	Class    domain.Classification
	Err      error
	Attempts int
}

// OK reports whether the fetch produced a result.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Fetcher wraps remote calls with validation, pacing, classification and backoff.
type Fetcher struct {
	config Config
	pacer  *throttle.Pacer
	clock  throttle.Clock
	log    *slog.Logger
}

// New creates a fetcher. Zero config fields take defaults.
func New(config Config, pacer *throttle.Pacer, clock throttle.Clock) *Fetcher {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = max(def.MaxBackoff, config.InitialBackoff)
	}
	if clock == nil {
		clock = throttle.RealClock{}
	}
	if pacer == nil {
		pacer = throttle.NewPacer(throttle.Config{}, clock)
	}
	return &Fetcher{
		config: config,
		pacer:  pacer,
		clock:  clock,
		log:    slog.Default().With("component", "fetcher"),
	}
}

func (f *Fetcher) backoff() retry.Backoff {
	b := retry.NewExponential(f.config.InitialBackoff)
	b = retry.WithCappedDuration(f.config.MaxBackoff, b)
	return retry.WithMaxRetries(uint64(f.config.MaxAttempts-1), b)
}

// Fetch validates the item, then calls the source until it succeeds, fails
// permanently, or runs out of attempts.
func (f *Fetcher) Fetch(ctx context.Context, call source.Fetcher, item domain.WorkItem) Outcome {
	if err := Validate(item); err != nil {
		metrics.FetchCallsTotal.WithLabelValues(item.Source, "invalid").Inc()
		return Outcome{Class: domain.ClassPermanent, Err: err}
	}

	params := item.Params()
	backoff := f.backoff()
	attempts := 0

	for {
		if err := f.pacer.Wait(ctx); err != nil {
			return Outcome{Class: domain.ClassTransient, Err: err, Attempts: attempts}
		}
		metrics.PacerDelay.WithLabelValues(item.Source).Set(f.pacer.CurrentDelay().Seconds())

		attempts++
		start := f.clock.Now()
		rs, err := call.Fetch(ctx, params)
		metrics.FetchLatency.WithLabelValues(item.Source).Observe(f.clock.Now().Sub(start).Seconds())

		if err == nil && rs.Empty() {
			err = source.ErrEmptyResponse
		}
		if err == nil {
			f.pacer.OnSuccess()
			metrics.FetchCallsTotal.WithLabelValues(item.Source, "ok").Inc()
			return Outcome{Result: rs, Attempts: attempts}
		}

		f.pacer.OnFailure()
		if ctx.Err() != nil {
			return Outcome{Class: domain.ClassTransient, Err: ctx.Err(), Attempts: attempts}
		}

		class, hint := Classify(err)
		metrics.FetchCallsTotal.WithLabelValues(item.Source, string(class)).Inc()
		if class == domain.ClassPermanent {
			return Outcome{Class: class, Err: err, Attempts: attempts}
		}

		wait, stop := backoff.Next()
		if stop {
			return Outcome{
				Class:    domain.ClassTransient,
				Err:      fmt.Errorf("failed after %d attempts: %w", attempts, err),
				Attempts: attempts,
			}
		}
		wait = max(wait, hint)

		f.log.Debug("Transient failure, backing off",
			"source", item.Source,
			"signature", item.Signature(),
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
		if err := f.clock.Sleep(ctx, wait); err != nil {
			return Outcome{Class: domain.ClassTransient, Err: err, Attempts: attempts}
		}
	}
}
