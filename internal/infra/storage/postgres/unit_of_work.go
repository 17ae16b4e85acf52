package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/metrics"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// UnitOfWork bundles all writes for one work item into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.conn().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{db: db, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTransactionDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// EnsureTable returns the stored schema of table, creating it from schema when absent.
// An existing table is never altered.
func (u *UnitOfWork) EnsureTable(
	ctx context.Context,
	table string,
	schema []storage.ColumnDef,
	key []string,
) ([]storage.ColumnDef, error) {
	if u.tx == nil {
		return nil, storage.ErrTransactionDone
	}

	stored, err := u.tableSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}

	defs := make([]string, len(schema))
	for i, c := range schema {
		defs[i] = fmt.Sprintf("%s %s", quote(c.Name), c.Type)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(defs, ", "))
	if _, err := u.tx.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	if len(key) > 0 {
		index := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote(table+"_nk"),
			quote(table),
			quoteAll(key),
		)
		if _, err := u.tx.ExecContext(ctx, index); err != nil {
			return nil, fmt.Errorf("failed to create key index on %s: %w", table, err)
		}
	}
	return schema, nil
}

func (u *UnitOfWork) tableSchema(ctx context.Context, table string) ([]storage.ColumnDef, error) {
	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`
	var rows []struct {
		Name     string `db:"column_name"`
		DataType string `db:"data_type"`
	}
	if err := u.tx.SelectContext(ctx, &rows, query, table); err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", table, err)
	}
	out := make([]storage.ColumnDef, len(rows))
	for i, row := range rows {
		out[i] = storage.ColumnDef{Name: row.Name, Type: columnType(row.DataType)}
	}
	return out, nil
}

func columnType(dataType string) storage.ColumnType {
	switch dataType {
	case "bigint", "integer", "smallint":
		return storage.TypeInteger
	case "double precision", "real", "numeric":
		return storage.TypeFloat
	case "boolean":
		return storage.TypeBoolean
	}
	return storage.TypeText
}

// Append inserts rows using chunked multi-row INSERT statements.
func (u *UnitOfWork) Append(ctx context.Context, table string, columns []string, rows [][]any) error {
	return u.insert(ctx, "append", table, columns, rows, "")
}

// Upsert inserts rows, replacing existing rows with the same natural key.
func (u *UnitOfWork) Upsert(
	ctx context.Context,
	table string,
	columns []string,
	key []string,
	rows [][]any,
) error {
	return u.insert(ctx, "upsert", table, columns, rows, upsertClause(columns, key))
}

func (u *UnitOfWork) insert(
	ctx context.Context,
	op, table string,
	columns []string,
	rows [][]any,
	suffix string,
) error {
	if u.tx == nil {
		return storage.ErrTransactionDone
	}
	if len(rows) == 0 {
		return nil
	}

	chunk := rowsPerStatement(len(columns))
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		batch := rows[start:end]

		args := make([]any, 0, len(batch)*len(columns))
		for i, row := range batch {
			if len(row) != len(columns) {
				return fmt.Errorf("row %d has %d values, want %d", start+i, len(row), len(columns))
			}
			args = append(args, row...)
		}

		metrics.DBBatchSize.WithLabelValues(op).Observe(float64(len(batch)))
		query := buildInsert(table, columns, len(batch), suffix)
		if _, err := u.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to %s into %s: %w", op, table, err)
		}
	}
	return nil
}

// UpsertIdentifiers adds identifiers to the catalog. An existing sort key is kept
// when the new one is unknown.
func (u *UnitOfWork) UpsertIdentifiers(ctx context.Context, ids []domain.Identifier) error {
	columns := []string{"partition_name", "catalog_type", "entity_id", "secondary", "sort_key"}
	seen := make(map[string]bool, len(ids))
	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		k := strings.Join([]string{id.Partition, string(id.Type), id.ID, id.Secondary}, "\x00")
		if seen[k] {
			continue
		}
		seen[k] = true
		rows = append(rows, []any{id.Partition, string(id.Type), id.ID, id.Secondary, id.SortKey})
	}
	suffix := `ON CONFLICT (partition_name, catalog_type, entity_id, secondary)
		DO UPDATE SET sort_key = COALESCE(EXCLUDED.sort_key, catalog_entities.sort_key)`
	return u.insert(ctx, "catalog", "catalog_entities", columns, rows, suffix)
}

// MarkCollected records the success marker for a work item.
func (u *UnitOfWork) MarkCollected(ctx context.Context, c domain.Completion) error {
	if u.tx == nil {
		return storage.ErrTransactionDone
	}
	query := `
		INSERT INTO collection_completions (source, signature, partition_name, run_id, table_names, row_count, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, signature) DO UPDATE SET
			partition_name = EXCLUDED.partition_name,
			run_id = EXCLUDED.run_id,
			table_names = EXCLUDED.table_names,
			row_count = EXCLUDED.row_count,
			collected_at = EXCLUDED.collected_at
	`
	_, err := u.tx.ExecContext(ctx, query, completionArgs(c)...)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s collected: %w", c.Source, c.Signature, err)
	}
	return nil
}

// completionArgs binds a completion in column order. table_names is NOT NULL,
// so an item that stored no rows binds an empty array.
func completionArgs(c domain.Completion) []any {
	tables := c.Tables
	if tables == nil {
		tables = []string{}
	}
	return []any{
		c.Source,
		string(c.Signature),
		c.Partition,
		c.RunID,
		pq.Array(tables),
		c.Rows,
		c.CollectedAt,
	}
}
