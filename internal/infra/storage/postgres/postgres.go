package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(db *DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db.conn().DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}

// PostgreSQL error codes
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// errorCode extracts the SQLSTATE from either driver's error type.
func errorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUndefinedObject reports a missing table or column.
func isUndefinedObject(err error) bool {
	code := errorCode(err)
	return code == codeUndefinedTable || code == codeUndefinedColumn
}

func quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}

// maxParams stays below the protocol's 65535 bind parameter limit.
const (
	maxParams       = 60000
	maxRowsPerBatch = 1000
)

// rowsPerStatement returns how many rows of width columns fit in one INSERT.
func rowsPerStatement(columns int) int {
	if columns <= 0 {
		return maxRowsPerBatch
	}
	return max(1, min(maxRowsPerBatch, maxParams/columns))
}

// buildInsert builds a multi-row INSERT with numbered placeholders.
func buildInsert(table string, columns []string, rows int, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quote(table), quoteAll(columns))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}

// upsertClause builds the ON CONFLICT clause for a natural key.
func upsertClause(columns, key []string) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quote(c), quote(c)))
		}
	}
	if len(sets) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", quoteAll(key))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", quoteAll(key), strings.Join(sets, ", "))
}
