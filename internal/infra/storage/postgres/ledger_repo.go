package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

const ledgerSchema = `
	CREATE TABLE IF NOT EXISTS collection_failures (
		source         TEXT NOT NULL,
		signature      TEXT NOT NULL,
		partition_name TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL,
		message        TEXT NOT NULL DEFAULT '',
		attempt_count  INTEGER NOT NULL DEFAULT 1,
		first_failed   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_attempt   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source, signature)
	);
	CREATE INDEX IF NOT EXISTS idx_collection_failures_class
		ON collection_failures (source, classification);
`

const ledgerColumns = `source, signature, partition_name, classification, message, attempt_count, first_failed, last_attempt`

// LedgerRepo implements storage.FailureLedger using PostgreSQL.
// The table is created on first use.
type LedgerRepo struct {
	db    *DB
	mu    sync.Mutex
	ready bool
}

// NewLedgerRepo creates a new PostgreSQL failure ledger.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) ensure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if _, err := r.db.conn().ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	r.ready = true
	return nil
}

// Record upserts a failure. A permanent entry stays permanent.
func (r *LedgerRepo) Record(
	ctx context.Context,
	rec domain.FailureRecord,
) (*domain.FailureRecord, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO collection_failures (source, signature, partition_name, classification, message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, signature) DO UPDATE SET
			classification = CASE
				WHEN collection_failures.classification = 'permanent' THEN 'permanent'
				ELSE EXCLUDED.classification
			END,
			message = EXCLUDED.message,
			attempt_count = collection_failures.attempt_count + 1,
			last_attempt = NOW()
		RETURNING ` + ledgerColumns

	var out domain.FailureRecord
	err := r.db.conn().GetContext(
		ctx,
		&out,
		query,
		rec.Source,
		string(rec.Signature),
		rec.Partition,
		string(rec.Classification),
		domain.TruncateMessage(rec.Message),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	return &out, nil
}

// Resolve deletes a transient entry.
func (r *LedgerRepo) Resolve(ctx context.Context, source string, sig domain.Signature) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	query := `
		DELETE FROM collection_failures
		WHERE source = $1 AND signature = $2 AND classification = 'transient'
	`
	if _, err := r.db.conn().ExecContext(ctx, query, source, string(sig)); err != nil {
		return fmt.Errorf("failed to resolve failure: %w", err)
	}
	return nil
}

// Escalate marks an entry permanent, creating it if absent.
func (r *LedgerRepo) Escalate(
	ctx context.Context,
	source string,
	sig domain.Signature,
	partition, reason string,
) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	query := `
		INSERT INTO collection_failures (source, signature, partition_name, classification, message, attempt_count)
		VALUES ($1, $2, $3, 'permanent', $4, 0)
		ON CONFLICT (source, signature) DO UPDATE SET
			classification = 'permanent',
			message = CASE WHEN EXCLUDED.message = '' THEN collection_failures.message ELSE EXCLUDED.message END
	`
	_, err := r.db.conn().ExecContext(ctx, query, source, string(sig), partition, domain.TruncateMessage(reason))
	if err != nil {
		return fmt.Errorf("failed to escalate failure: %w", err)
	}
	return nil
}

// PermanentSignatures returns the signatures that must never be retried.
func (r *LedgerRepo) PermanentSignatures(
	ctx context.Context,
	source string,
) (map[domain.Signature]struct{}, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	query := `
		SELECT signature
		FROM collection_failures
		WHERE source = $1 AND classification = 'permanent'
	`
	var sigs []string
	if err := r.db.conn().SelectContext(ctx, &sigs, query, source); err != nil {
		return nil, fmt.Errorf("failed to list permanent failures: %w", err)
	}
	out := make(map[domain.Signature]struct{}, len(sigs))
	for _, s := range sigs {
		out[domain.Signature(s)] = struct{}{}
	}
	return out, nil
}

// List returns ledger entries (for operators).
func (r *LedgerRepo) List(
	ctx context.Context,
	filter storage.LedgerFilter,
) ([]*domain.FailureRecord, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Source != "" {
		args = append(args, filter.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.Classification != "" {
		args = append(args, string(filter.Classification))
		where = append(where, fmt.Sprintf("classification = $%d", len(args)))
	}

	query := "SELECT " + ledgerColumns + " FROM collection_failures"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_attempt DESC, signature"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []*domain.FailureRecord
	if err := r.db.conn().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	return rows, nil
}

// Counts returns the number of entries per source and classification.
func (r *LedgerRepo) Counts(ctx context.Context) ([]storage.LedgerCount, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	query := `
		SELECT source, classification, COUNT(*) AS count
		FROM collection_failures
		GROUP BY source, classification
		ORDER BY source, classification
	`
	var counts []storage.LedgerCount
	if err := r.db.conn().SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	return counts, nil
}
