package storage

import (
	"context"
	"errors"

	"github.com/vietddude/statsync/internal/core/domain"
)

var (
	// ErrTransactionDone is returned when a unit of work is used after Commit or Rollback
	ErrTransactionDone = errors.New("transaction already completed")

	// ErrUnknownPartition is returned when a partition is not in the catalog
	ErrUnknownPartition = errors.New("unknown partition")
)

// ColumnType is the storage type of a result column.
type ColumnType string

const (
	TypeInteger ColumnType = "BIGINT"
	TypeFloat   ColumnType = "DOUBLE PRECISION"
	TypeBoolean ColumnType = "BOOLEAN"
	TypeText    ColumnType = "TEXT"
)

// ColumnDef is one column of a result table.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// CatalogRepository reads the reference catalog.
type CatalogRepository interface {
	// ListPartitions returns every known partition
	ListPartitions(ctx context.Context) ([]domain.Partition, error)

	// SavePartitions upserts partitions by name
	SavePartitions(ctx context.Context, partitions []domain.Partition) error

	// ListIdentifiers returns identifiers most recent first (sort key, then id, descending)
	ListIdentifiers(
		ctx context.Context,
		partition string,
		catalogType domain.CatalogType,
	) ([]domain.Identifier, error)

	// CountIdentifiers returns the identifier count per catalog type
	CountIdentifiers(ctx context.Context, partition string) (map[domain.CatalogType]int, error)
}

// ResultStore reads result tables and opens units of work.
type ResultStore interface {
	// TableExists reports whether a result table exists
	TableExists(ctx context.Context, table string) (bool, error)

	// ListTables returns result tables whose name starts with prefix
	ListTables(ctx context.Context, prefix string) ([]string, error)

	// Columns returns the column names of a table, empty if it does not exist
	Columns(ctx context.Context, table string) ([]string, error)

	// Signatures returns the distinct tuples of the given columns present in a table
	Signatures(ctx context.Context, table string, columns []string) (map[domain.Signature]struct{}, error)

	// Begin opens a unit of work
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork groups all writes for one work item. Nothing is visible until Commit.
type UnitOfWork interface {
	// EnsureTable creates the table if missing and returns its stored schema
	EnsureTable(ctx context.Context, table string, schema []ColumnDef, key []string) ([]ColumnDef, error)

	// Append inserts rows
	Append(ctx context.Context, table string, columns []string, rows [][]any) error

	// Upsert inserts rows, replacing those with the same natural key
	Upsert(ctx context.Context, table string, columns []string, key []string, rows [][]any) error

	// UpsertIdentifiers adds identifiers to the reference catalog
	UpsertIdentifiers(ctx context.Context, ids []domain.Identifier) error

	// MarkCollected records the explicit success marker for a work item
	MarkCollected(ctx context.Context, c domain.Completion) error

	Commit() error
	Rollback() error
}

// CompletionRepository reads success markers.
type CompletionRepository interface {
	// Signatures returns every collected signature of a source
	Signatures(ctx context.Context, source string) (map[domain.Signature]struct{}, error)

	// Count returns the number of collected items of a source
	Count(ctx context.Context, source string) (int, error)
}

// LedgerFilter narrows a ledger listing.
type LedgerFilter struct {
	Source         string
	Classification domain.Classification
	Limit          int
}

// LedgerCount is the number of ledger entries per source and classification.
type LedgerCount struct {
	Source         string                `db:"source"`
	Classification domain.Classification `db:"classification"`
	Count          int                   `db:"count"`
}

// FailureLedger is the durable record of failed work items.
type FailureLedger interface {
	// Record upserts a failure: attempt count +1, timestamp and message refreshed,
	// classification upgraded but never downgraded. Returns the stored entry.
	Record(ctx context.Context, rec domain.FailureRecord) (*domain.FailureRecord, error)

	// Resolve removes a transient entry after a later success
	Resolve(ctx context.Context, source string, sig domain.Signature) error

	// Escalate marks an entry permanent, creating it if needed
	Escalate(ctx context.Context, source string, sig domain.Signature, partition, reason string) error

	// PermanentSignatures returns the signatures excluded from a source
	PermanentSignatures(ctx context.Context, source string) (map[domain.Signature]struct{}, error)

	// List returns entries, most recent attempt first
	List(ctx context.Context, filter LedgerFilter) ([]*domain.FailureRecord, error)

	// Counts groups entries by source and classification
	Counts(ctx context.Context) ([]LedgerCount, error)
}

// Prober verifies storage liveness and reconnects when needed.
type Prober interface {
	Ensure(ctx context.Context) error
}
