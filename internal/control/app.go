package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/statsync/internal/core/config"
	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/fetch"
	"github.com/vietddude/statsync/internal/indexing/gap"
	"github.com/vietddude/statsync/internal/indexing/health"
	"github.com/vietddude/statsync/internal/indexing/orchestrator"
	"github.com/vietddude/statsync/internal/indexing/persist"
	"github.com/vietddude/statsync/internal/indexing/registry"
	"github.com/vietddude/statsync/internal/indexing/resolver"
	redisclient "github.com/vietddude/statsync/internal/infra/redis"
	"github.com/vietddude/statsync/internal/infra/source"
	"github.com/vietddude/statsync/internal/infra/storage"
	"github.com/vietddude/statsync/internal/infra/storage/memory"
	"github.com/vietddude/statsync/internal/infra/storage/postgres"
)

// App is the main application struct that wires storage, the remote source
// and the reconciliation engine.
type App struct {
	cfg          *config.AppConfig
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	catalog      storage.CatalogRepository
	completions  storage.CompletionRepository
	ledger       storage.FailureLedger
	healthMon    *health.Monitor
	healthServer *health.Server
	store        *memory.MemoryStorage
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")

	// 1. Initialize Storage
	var (
		catalog     storage.CatalogRepository
		results     storage.ResultStore
		completions storage.CompletionRepository
		ledger      storage.FailureLedger
		prober      storage.Prober
		store       *memory.MemoryStorage
		db          *postgres.DB
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}

		catalog = postgres.NewCatalogRepo(db)
		results = postgres.NewResultStore(db)
		completions = postgres.NewCompletionRepo(db)
		ledger = postgres.NewLedgerRepo(db)
		prober = db
		log.Info("Using PostgreSQL storage", "driver", cfg.Database.Driver)
	} else {
		store = memory.NewMemoryStorage()
		catalog = memory.NewCatalogRepo(store)
		results = memory.NewResultStore(store)
		completions = memory.NewCompletionRepo(store)
		ledger = memory.NewLedgerRepo(store)
		prober = store
		log.Info("Using Memory storage")
	}

	if err := catalog.SavePartitions(ctx, cfg.DomainPartitions()); err != nil {
		return nil, fmt.Errorf("failed to seed partitions: %w", err)
	}

	// 2. Register Datasets
	src := source.NewHTTPSource(cfg.Source)
	reg := registry.New()
	for _, ds := range cfg.Datasets {
		def, err := ds.Definition()
		if err != nil {
			return nil, err
		}
		src.Declare(def.Endpoint, declaredParams(ds, def))
		if err := reg.Register(def, source.Bind(src, def.Endpoint)); err != nil {
			return nil, err
		}
	}

	// 3. Initialize Engine
	detector := gap.NewDetector(
		gap.Config{
			TablePrefix: cfg.Collector.TablePrefix,
			ScanTables:  cfg.Collector.ScanTables(),
			Siblings:    reg.Names,
		},
		resolver.New(catalog),
		results,
		completions,
		ledger,
	)

	deps := orchestrator.Deps{
		Registry: reg,
		Catalog:  catalog,
		Detector: detector,
		Results:  results,
		Ledger:   ledger,
		Prober:   prober,
		Writer:   persist.NewWriter(cfg.Collector.TablePrefix),
	}

	// 4. Initialize Redis (optional lease and last-pass store)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, pass leases disabled", "error", err)
		} else {
			redisClient = client
			deps.Leaser = redisLeaser{client: client}
			deps.Summaries = client
		}
	}

	// 5. Initialize Health Monitor
	healthMon := health.NewMonitor(reg.Names(), ledger, completions, health.Thresholds{})
	if db != nil {
		healthMon.AddCheck("database", db.Health)
	} else {
		healthMon.AddCheck("database", store.Ensure)
	}
	if redisClient != nil {
		healthMon.AddCheck("redis", redisClient.Health)
	}

	return &App{
		cfg:          cfg,
		registry:     reg,
		orchestrator: orchestrator.New(orchestratorConfig(cfg.Collector), deps),
		catalog:      catalog,
		completions:  completions,
		ledger:       ledger,
		healthMon:    healthMon,
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		store:        store,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// declaredParams returns the endpoint parameters of a dataset: the configured
// list, or every parameter the dataset provides.
func declaredParams(ds config.DatasetConfig, def domain.Definition) []string {
	if len(ds.Params) > 0 {
		return ds.Params
	}
	var params []string
	for _, dim := range def.Dimensions {
		params = append(params, dim.Param)
	}
	for _, p := range def.Static {
		params = append(params, p.Name)
	}
	if def.PartitionParam != "" {
		params = append(params, def.PartitionParam)
	}
	return params
}

func orchestratorConfig(c config.CollectorConfig) orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxItems = c.MaxItems
	cfg.EscalateAfter = c.EscalateAfter
	if c.LeaseTTL > 0 {
		cfg.LeaseTTL = c.LeaseTTL
	}
	if c.Pacing.MinDelay > 0 {
		cfg.Pacer.MinDelay = c.Pacing.MinDelay
	}
	if c.Pacing.MaxDelay > 0 {
		cfg.Pacer.MaxDelay = c.Pacing.MaxDelay
	}
	if c.Pacing.FailureFactor > 0 {
		cfg.Pacer.FailureFactor = c.Pacing.FailureFactor
	}
	if c.Pacing.RecoveryStreak > 0 {
		cfg.Pacer.RecoveryStreak = c.Pacing.RecoveryStreak
	}
	cfg.Fetch = fetch.Config{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
	}
	return cfg
}

// Start starts the health server and background collectors.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Server.Port > 0 {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	return nil
}

// Run executes every pass in dependency order, then waits for the configured
// interval and starts over until ctx is cancelled.
func (a *App) Run(ctx context.Context, datasets, partitions []string) error {
	for {
		summaries, err := a.orchestrator.RunAll(ctx, datasets, partitions, a.cfg.Collector.RateLimit)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.log.Warn("Round finished with errors", "passes", len(summaries), "error", err)
		} else {
			a.log.Info("Round complete", "passes", len(summaries), "next_in", a.cfg.Collector.Interval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.Collector.Interval):
		}
	}
}

// RunPass runs a single reconciliation pass. A zero rateLimit uses the configured one.
func (a *App) RunPass(
	ctx context.Context,
	dataset, partition string,
	rateLimit time.Duration,
) (*domain.PassSummary, error) {
	if rateLimit <= 0 {
		rateLimit = a.cfg.Collector.RateLimit
	}
	return a.orchestrator.RunPass(ctx, dataset, partition, rateLimit)
}

// Failures lists ledger entries.
func (a *App) Failures(ctx context.Context, filter storage.LedgerFilter) ([]*domain.FailureRecord, error) {
	return a.ledger.List(ctx, filter)
}

// Escalate marks a work item permanent so no later pass retries it.
func (a *App) Escalate(ctx context.Context, dataset string, sig domain.Signature, partition, reason string) error {
	if _, err := a.registry.Get(dataset); err != nil {
		return err
	}
	return a.ledger.Escalate(ctx, dataset, sig, partition, reason)
}

// Health returns the current health report.
func (a *App) Health(ctx context.Context) *health.HealthReport {
	return a.healthMon.CheckHealth(ctx)
}

// Stop stops the app.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping statsync...")

	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}

	var errs []error
	if a.cfg.Server.Port > 0 {
		errs = append(errs, a.healthServer.Stop(ctx))
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// redisLeaser adapts the Redis client to orchestrator.Leaser.
type redisLeaser struct {
	client *redisclient.Client
}

func (l redisLeaser) Acquire(
	ctx context.Context,
	source, partition string,
	ttl time.Duration,
) (orchestrator.Lease, error) {
	lease, err := l.client.AcquireLease(ctx, source, partition, ttl)
	if err != nil || lease == nil {
		return nil, err
	}
	return lease, nil
}
