package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL.
type ResultStore struct {
	db *DB
}

// NewResultStore creates a new PostgreSQL result store.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

// TableExists reports whether a result table exists in the current schema.
func (s *ResultStore) TableExists(ctx context.Context, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)
	`
	var exists bool
	if err := s.db.conn().GetContext(ctx, &exists, query, table); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

// ListTables returns tables whose name starts with prefix. The comparison is
// literal, so underscores in the prefix are not wildcards.
func (s *ResultStore) ListTables(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND left(table_name, length($1)) = $1
		ORDER BY table_name
	`
	var tables []string
	if err := s.db.conn().SelectContext(ctx, &tables, query, prefix); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// Columns returns a table's columns in ordinal order.
func (s *ResultStore) Columns(ctx context.Context, table string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`
	var cols []string
	if err := s.db.conn().SelectContext(ctx, &cols, query, table); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return cols, nil
}

// Signatures returns the distinct value tuples of columns present in table.
// A table or column that does not exist yields an empty set.
func (s *ResultStore) Signatures(
	ctx context.Context,
	table string,
	columns []string,
) (map[domain.Signature]struct{}, error) {
	out := make(map[domain.Signature]struct{})
	if len(columns) == 0 {
		return out, nil
	}

	selects := make([]string, len(columns))
	for i, c := range columns {
		selects[i] = fmt.Sprintf("CAST(%s AS TEXT)", quote(c))
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", strings.Join(selects, ", "), quote(table))

	rows, err := s.db.conn().QueryContext(ctx, query)
	if err != nil {
		if isUndefinedObject(err) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to scan signatures of %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	parts := make([]string, len(columns))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to read signature row: %w", err)
		}
		for i, v := range values {
			parts[i] = v.String
		}
		out[domain.SignatureOf(parts...)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signatures of %s: %w", table, err)
	}
	return out, nil
}

// Begin opens a unit of work.
func (s *ResultStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := s.db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return uow, nil
}
