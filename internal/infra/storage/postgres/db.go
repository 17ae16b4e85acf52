package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vietddude/statsync/internal/indexing/metrics"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL               string        `yaml:"url"`
	Driver            string        `yaml:"driver"` // postgres (lib/pq) or pgx
	MaxConns          int           `yaml:"max_conns"`
	MinConns          int           `yaml:"min_conns"`
	IdleProbeAfter    time.Duration `yaml:"idle_probe_after"` // reopen the pool after this much inactivity
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 3
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	return c
}

// DB wraps the PostgreSQL connection pool and replaces it when it goes stale.
type DB struct {
	cfg      Config
	mu       sync.RWMutex
	db       *sqlx.DB
	lastUsed time.Time
	log      *slog.Logger
}

// NewDB creates a new database connection.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()
	conn, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{
		cfg:      cfg,
		db:       conn,
		lastUsed: time.Now(),
		log:      slog.Default().With("component", "postgres"),
	}, nil
}

func open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// conn returns the current pool and marks it as used.
func (db *DB) conn() *sqlx.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.lastUsed = time.Now()
	return db.db
}

// Ensure verifies the connection before a unit of work. After a long idle gap
// (a suspended host, a dropped network) the pool is reopened without trusting it;
// otherwise a SELECT 1 probe decides.
func (db *DB) Ensure(ctx context.Context) error {
	db.mu.RLock()
	conn := db.db
	idle := time.Since(db.lastUsed)
	db.mu.RUnlock()

	if db.cfg.IdleProbeAfter > 0 && idle > db.cfg.IdleProbeAfter {
		db.log.Warn("Connection idle too long, reconnecting", "idle", idle.Round(time.Second))
		return db.reconnect(ctx)
	}

	if err := probe(ctx, conn, db.cfg.ProbeTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		db.log.Warn("Liveness probe failed, reconnecting", "error", err)
		return db.reconnect(ctx)
	}

	db.mu.Lock()
	db.lastUsed = time.Now()
	db.mu.Unlock()
	return nil
}

func probe(ctx context.Context, conn *sqlx.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var one int
	return conn.QueryRowContext(pingCtx, "SELECT 1").Scan(&one)
}

func (db *DB) reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= db.cfg.ReconnectAttempts; attempt++ {
		conn, err := open(ctx, db.cfg)
		if err == nil {
			db.mu.Lock()
			old := db.db
			db.db = conn
			db.lastUsed = time.Now()
			db.mu.Unlock()
			_ = old.Close()

			metrics.DBReconnects.WithLabelValues("success").Inc()
			db.log.Info("Reconnected to database", "attempt", attempt)
			return nil
		}

		lastErr = err
		metrics.DBReconnects.WithLabelValues("failure").Inc()
		db.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)

		if attempt < db.cfg.ReconnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(db.cfg.ReconnectDelay):
			}
		}
	}
	return fmt.Errorf("failed to reconnect after %d attempts: %w", db.cfg.ReconnectAttempts, lastErr)
}

// StartMetricsCollector starts a background goroutine to collect DB metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.mu.RLock()
				stats := db.db.Stats()
				db.mu.RUnlock()
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is healthy.
func (db *DB) Health(ctx context.Context) error {
	db.mu.RLock()
	conn := db.db
	db.mu.RUnlock()
	return conn.PingContext(ctx)
}

// Close closes the current pool.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.db.Close()
}
