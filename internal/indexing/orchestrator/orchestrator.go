package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/fetch"
	"github.com/vietddude/statsync/internal/indexing/gap"
	"github.com/vietddude/statsync/internal/indexing/metrics"
	"github.com/vietddude/statsync/internal/indexing/persist"
	"github.com/vietddude/statsync/internal/indexing/registry"
	"github.com/vietddude/statsync/internal/indexing/throttle"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// Config holds per-pass limits.
type Config struct {
	MaxItems      int           // cap on items attempted per pass, 0 = no cap
	EscalateAfter int           // failed passes before a transient item turns permanent, 0 = never
	LeaseTTL      time.Duration // lease duration when a Leaser is configured
	Pacer         throttle.Config
	Fetch         fetch.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseTTL: 10 * time.Minute,
		Pacer:    throttle.DefaultConfig(),
		Fetch:    fetch.DefaultConfig(),
	}
}

// Detector computes the uncollected work items of a pass.
type Detector interface {
	Missing(ctx context.Context, def domain.Definition, partition domain.Partition) (iter.Seq[domain.WorkItem], *gap.Stats, error)
}

// Lease is a held claim on one pass.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Leaser hands out pass leases. Acquire returns a nil Lease when the pass is
// held elsewhere.
type Leaser interface {
	Acquire(ctx context.Context, source, partition string, ttl time.Duration) (Lease, error)
}

// SummarySink keeps the latest pass summary for operators.
type SummarySink interface {
	SaveLastPass(ctx context.Context, s *domain.PassSummary) error
}

// Deps are the collaborators of the orchestrator. Leaser and Summaries are optional.
type Deps struct {
	Registry  *registry.Registry
	Catalog   storage.CatalogRepository
	Detector  Detector
	Results   storage.ResultStore
	Ledger    storage.FailureLedger
	Prober    storage.Prober
	Writer    *persist.Writer
	Leaser    Leaser
	Summaries SummarySink
	Clock     throttle.Clock
}

// Orchestrator drives reconciliation passes. State lives entirely in storage,
// so an interrupted pass is resumed by running it again.
type Orchestrator struct {
	config  Config
	deps    Deps
	pacer   *throttle.Pacer
	fetcher *fetch.Fetcher
	log     *slog.Logger
}

func New(config Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = throttle.RealClock{}
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultConfig().LeaseTTL
	}
	// One pacer spans every pass so spacing holds across pass boundaries.
	pacer := throttle.NewPacer(config.Pacer, deps.Clock)
	return &Orchestrator{
		config:  config,
		deps:    deps,
		pacer:   pacer,
		fetcher: fetch.New(config.Fetch, pacer, deps.Clock),
		log:     slog.Default().With("component", "orchestrator"),
	}
}

// RunPass runs one reconciliation pass of source over partition. rateLimit is
// the minimum spacing between remote calls; zero keeps the configured pacing.
// Item failures never abort the pass; the returned error reports only what
// prevented the pass from running.
func (o *Orchestrator) RunPass(
	ctx context.Context,
	source, partitionName string,
	rateLimit time.Duration,
) (*domain.PassSummary, error) {
	entry, err := o.deps.Registry.Get(source)
	if err != nil {
		return nil, err
	}
	def := entry.Definition
	unavailable := func(err error) error {
		return &CatalogUnavailableError{Source: source, Partition: partitionName, Err: err}
	}

	if err := o.deps.Prober.Ensure(ctx); err != nil {
		return nil, unavailable(err)
	}
	partition, ok, err := o.partition(ctx, partitionName)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownPartition, partitionName)
	}

	var lease Lease
	if o.deps.Leaser != nil {
		lease, err = o.deps.Leaser.Acquire(ctx, source, partition.Name, o.config.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease: %w", err)
		}
		if lease == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrPassLocked, source, partition.Name)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				o.log.Warn("Failed to release lease", "source", source, "partition", partition.Name, "error", err)
			}
		}()
	}

	clock := o.deps.Clock
	summary := &domain.PassSummary{
		RunID:     uuid.New(),
		Source:    source,
		Partition: partition.Name,
		StartedAt: clock.Now(),
	}
	log := o.log.With("source", source, "partition", partition.Name, "run_id", summary.RunID)

	missing, stats, err := o.deps.Detector.Missing(ctx, def, partition)
	if err != nil {
		return nil, unavailable(err)
	}
	for range missing {
		summary.Planned++
		if o.config.MaxItems > 0 && summary.Planned >= o.config.MaxItems {
			break
		}
	}
	metrics.ItemsMissing.WithLabelValues(source, partition.Name).Set(float64(summary.Planned))
	log.Info("Starting pass",
		"planned", summary.Planned,
		"collected", stats.Collected,
		"excluded", stats.Excluded,
		"tables", len(stats.Tables),
	)

	minDelay := o.config.Pacer.WithDefaults().MinDelay
	if rateLimit > 0 {
		minDelay = rateLimit
	}
	o.pacer.SetMinDelay(minDelay)
	lastRefresh := clock.Now()

	var passErr error
	for item := range missing {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		if o.config.MaxItems > 0 && summary.Attempted >= o.config.MaxItems {
			break
		}

		if lease != nil && clock.Now().Sub(lastRefresh) >= o.config.LeaseTTL/2 {
			if err := lease.Refresh(ctx); err != nil {
				passErr = fmt.Errorf("pass stopped: %w", err)
				summary.Interrupted = true
				break
			}
			lastRefresh = clock.Now()
		}

		if err := o.deps.Prober.Ensure(ctx); err != nil {
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
			passErr = unavailable(err)
			break
		}

		if !o.process(ctx, log, entry, item, summary) {
			summary.Interrupted = true
			break
		}
	}

	summary.Elapsed = clock.Now().Sub(summary.StartedAt)
	metrics.PassDuration.WithLabelValues(source, partition.Name).Observe(summary.Elapsed.Seconds())
	log.Info("Pass complete",
		"planned", summary.Planned,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"transient", summary.Transient,
		"permanent", summary.Permanent,
		"persistence", summary.Persistence,
		"escalated", summary.Escalated,
		"interrupted", summary.Interrupted,
		"success_rate", fmt.Sprintf("%.1f%%", summary.SuccessRate()),
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)

	if o.deps.Summaries != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.deps.Summaries.SaveLastPass(saveCtx, summary); err != nil {
			log.Warn("Failed to save pass summary", "error", err)
		}
		cancel()
	}
	return summary, passErr
}

// process handles one work item. It returns false when the pass was cancelled
// before the item reached an outcome.
func (o *Orchestrator) process(
	ctx context.Context,
	log *slog.Logger,
	entry *registry.Entry,
	item domain.WorkItem,
	summary *domain.PassSummary,
) bool {
	def := entry.Definition
	sig := item.Signature()

	out := o.fetcher.Fetch(ctx, entry.Fetcher, item)
	if !out.OK() && ctx.Err() != nil {
		return false
	}
	summary.Attempted++

	if !out.OK() {
		o.recordFailure(ctx, log, item, out, summary)
		return true
	}

	written, err := o.persist(ctx, def, item, out.Result, summary.RunID.String())
	if err != nil {
		if ctx.Err() != nil {
			summary.Attempted--
			return false
		}
		summary.Failed++
		summary.Persistence++
		metrics.ItemsProcessed.WithLabelValues(def.Name, item.Partition.Name, "persistence").Inc()
		log.Warn("Skipping item, results not stored", "signature", sig, "error", err)
		return true
	}

	summary.Succeeded++
	metrics.ItemsProcessed.WithLabelValues(def.Name, item.Partition.Name, "succeeded").Inc()
	if err := o.deps.Ledger.Resolve(ctx, def.Name, sig); err != nil {
		log.Warn("Failed to resolve ledger entry", "signature", sig, "error", err)
	}
	log.Debug("Collected item",
		"signature", sig,
		"attempts", out.Attempts,
		"tables", len(written.Tables),
		"rows", written.Rows,
	)
	return true
}

func (o *Orchestrator) persist(
	ctx context.Context,
	def domain.Definition,
	item domain.WorkItem,
	rs *domain.ResultSet,
	runID string,
) (*persist.Written, error) {
	uow, err := o.deps.Results.Begin(ctx)
	if err != nil {
		return nil, &persist.PersistenceError{Err: err}
	}
	written, err := o.deps.Writer.Write(ctx, uow, def, item, rs, runID)
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		_ = uow.Rollback()
		return nil, &persist.PersistenceError{Err: fmt.Errorf("commit: %w", err)}
	}
	return written, nil
}

func (o *Orchestrator) recordFailure(
	ctx context.Context,
	log *slog.Logger,
	item domain.WorkItem,
	out fetch.Outcome,
	summary *domain.PassSummary,
) {
	source, sig := item.Source, item.Signature()
	summary.Failed++
	if out.Class == domain.ClassPermanent {
		summary.Permanent++
	} else {
		summary.Transient++
	}
	metrics.ItemsProcessed.WithLabelValues(source, item.Partition.Name, string(out.Class)).Inc()

	rec, err := o.deps.Ledger.Record(ctx, domain.FailureRecord{
		Source:         source,
		Signature:      sig,
		Partition:      item.Partition.Name,
		Classification: out.Class,
		Message:        out.Err.Error(),
	})
	if err != nil {
		log.Error("Failed to record failure", "signature", sig, "error", err)
		return
	}
	metrics.LedgerRecords.WithLabelValues(source, string(rec.Classification)).Inc()
	log.Warn("Item failed",
		"signature", sig,
		"class", rec.Classification,
		"attempts", out.Attempts,
		"failed_passes", rec.AttemptCount,
		"error", out.Err,
	)

	if rec.Classification != domain.ClassTransient ||
		o.config.EscalateAfter <= 0 ||
		rec.AttemptCount < o.config.EscalateAfter {
		return
	}
	reason := fmt.Sprintf("escalated after %d failed passes: %s", rec.AttemptCount, rec.Message)
	if err := o.deps.Ledger.Escalate(ctx, source, sig, item.Partition.Name, reason); err != nil {
		log.Error("Failed to escalate failure", "signature", sig, "error", err)
		return
	}
	summary.Escalated++
	metrics.LedgerRecords.WithLabelValues(source, string(domain.ClassPermanent)).Inc()
	log.Info("Escalated to permanent", "signature", sig, "failed_passes", rec.AttemptCount)
}

func (o *Orchestrator) partition(ctx context.Context, name string) (domain.Partition, bool, error) {
	partitions, err := o.deps.Catalog.ListPartitions(ctx)
	if err != nil {
		return domain.Partition{}, false, fmt.Errorf("failed to list partitions: %w", err)
	}
	for _, p := range partitions {
		if p.Name == name {
			return p, true, nil
		}
	}
	return domain.Partition{}, false, nil
}

// RunAll runs every (source, partition) pass in dependency order: catalog
// producers first, then by priority and name. A failing pass is logged and
// the run moves on; the joined errors are returned with the summaries.
func (o *Orchestrator) RunAll(
	ctx context.Context,
	sources, partitions []string,
	rateLimit time.Duration,
) ([]*domain.PassSummary, error) {
	order, err := o.deps.Registry.Plan(sources)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		known, err := o.deps.Catalog.ListPartitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}
		for _, p := range known {
			partitions = append(partitions, p.Name)
		}
	}

	var (
		summaries []*domain.PassSummary
		errs      []error
	)
	for _, source := range order {
		for _, partition := range partitions {
			if ctx.Err() != nil {
				return summaries, errors.Join(append(errs, ctx.Err())...)
			}
			summary, err := o.RunPass(ctx, source, partition, rateLimit)
			if summary != nil {
				summaries = append(summaries, summary)
			}
			switch {
			case err == nil:
			case errors.Is(err, ErrPassLocked):
				o.log.Info("Pass held by another worker, skipping", "source", source, "partition", partition)
			default:
				o.log.Error("Pass failed", "source", source, "partition", partition, "error", err)
				errs = append(errs, err)
			}
		}
	}
	return summaries, errors.Join(errs...)
}
