package persist

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// ErrUnexpectedShape is returned when a response lacks a declared sub-result or column.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// PersistenceError reports a failed write of one work item's results.
type PersistenceError struct {
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("persist: %v", e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Written summarizes what one Write stored.
type Written struct {
	Tables      []string
	Rows        int
	Identifiers int
}

// Writer turns a fetched result set into table writes, catalog upserts and a
// completion record, all inside the caller's unit of work.
type Writer struct {
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// NewWriter creates a writer storing tables under prefix.
func NewWriter(prefix string) *Writer {
	return &Writer{
		prefix: prefix,
		now:    time.Now,
		log:    slog.Default().With("component", "persist"),
	}
}

// SetClock overrides the time source used for completion records.
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// Prefix returns the table prefix.
func (w *Writer) Prefix() string {
	return w.prefix
}

// Write stores rs for item. Nothing is committed here; the caller commits or
// rolls back uow. Every error is a *PersistenceError.
func (w *Writer) Write(
	ctx context.Context,
	uow storage.UnitOfWork,
	def domain.Definition,
	item domain.WorkItem,
	rs *domain.ResultSet,
	runID string,
) (*Written, error) {
	if rs == nil {
		rs = &domain.ResultSet{}
	}
	if err := CheckOutputs(def, rs); err != nil {
		return nil, err
	}

	out := &Written{}
	for i := range rs.Tables {
		t := &rs.Tables[i]
		if len(t.Rows) == 0 {
			continue
		}
		name := TableName(w.prefix, def.Name, t.Name)
		n, err := w.writeTable(ctx, uow, def, item, name, t)
		if err != nil {
			return nil, &PersistenceError{Table: name, Err: err}
		}
		out.Tables = append(out.Tables, name)
		out.Rows += n
	}

	if def.Catalog != nil {
		ids, err := Identifiers(def, item, rs)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			if err := uow.UpsertIdentifiers(ctx, ids); err != nil {
				return nil, &PersistenceError{Table: "catalog", Err: err}
			}
		}
		out.Identifiers = len(ids)
	}

	completion := domain.Completion{
		Source:      def.Name,
		Signature:   item.Signature(),
		Partition:   item.Partition.Name,
		RunID:       runID,
		Tables:      out.Tables,
		Rows:        out.Rows,
		CollectedAt: w.now().UTC(),
	}
	if err := uow.MarkCollected(ctx, completion); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	w.log.Debug("Stored work item",
		"source", def.Name,
		"signature", item.Signature(),
		"tables", len(out.Tables),
		"rows", out.Rows,
		"identifiers", out.Identifiers,
	)
	return out, nil
}

func (w *Writer) writeTable(
	ctx context.Context,
	uow storage.UnitOfWork,
	def domain.Definition,
	item domain.WorkItem,
	name string,
	t *domain.Table,
) (int, error) {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return 0, fmt.Errorf("%w: row %d has %d values for %d columns",
				ErrUnexpectedShape, i, len(row), len(t.Columns))
		}
	}

	// Dimension columns lead and are always TEXT.
	taken := make(map[string]bool)
	var dimCols []string
	var dimValues []any
	for _, k := range item.Keys {
		col := DimensionColumn(k.Column)
		if taken[col] {
			continue
		}
		taken[col] = true
		dimCols = append(dimCols, col)
		dimValues = append(dimValues, k.Value)
	}
	respCols := columnNames(t.Columns, taken)

	columns := append(slices.Clone(dimCols), respCols...)
	schema := make([]storage.ColumnDef, 0, len(columns))
	for _, c := range dimCols {
		schema = append(schema, storage.ColumnDef{Name: c, Type: storage.TypeText})
	}
	for j, c := range respCols {
		schema = append(schema, storage.ColumnDef{Name: c, Type: inferType(column(t, j))})
	}

	key := naturalKey(def.NaturalKey, columns)
	stored, err := uow.EnsureTable(ctx, name, schema, key)
	if err != nil {
		return 0, err
	}

	// Later batches follow the stored schema: unknown columns are dropped and
	// absent ones stay NULL.
	types := make(map[string]storage.ColumnType, len(stored))
	for _, c := range stored {
		types[c.Name] = c.Type
	}
	var keep []int
	var keepCols []string
	for j, c := range columns {
		if _, ok := types[c]; ok {
			keep = append(keep, j)
			keepCols = append(keepCols, c)
		}
	}
	if dropped := len(columns) - len(keep); dropped > 0 {
		w.log.Debug("Dropping columns absent from stored schema", "table", name, "dropped", dropped)
	}

	rows := make([][]any, 0, len(t.Rows))
	for r, src := range t.Rows {
		full := append(slices.Clone(dimValues), src...)
		row := make([]any, len(keep))
		for i, j := range keep {
			v, err := coerce(full[j], types[columns[j]])
			if err != nil {
				return 0, fmt.Errorf("row %d column %s: %w", r, columns[j], err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	key = naturalKey(key, keepCols)
	if len(key) == 0 {
		return len(rows), uow.Append(ctx, name, keepCols, rows)
	}
	rows = dedupe(rows, keepCols, key)
	return len(rows), uow.Upsert(ctx, name, keepCols, key, rows)
}

func column(t *domain.Table, j int) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, row := range t.Rows {
			if !yield(row[j]) {
				return
			}
		}
	}
}

// naturalKey returns key when every key column is present, nil otherwise.
func naturalKey(key, columns []string) []string {
	if len(key) == 0 {
		return nil
	}
	for _, k := range key {
		if !slices.Contains(columns, k) {
			return nil
		}
	}
	return key
}

// dedupe keeps the last row per natural key; a single upsert statement cannot
// touch the same key twice.
func dedupe(rows [][]any, columns, key []string) [][]any {
	idx := make([]int, len(key))
	for i, k := range key {
		idx[i] = slices.Index(columns, k)
	}
	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(idx))
		for i, j := range idx {
			parts[i] = textValue(row[j])
		}
		k := strings.Join(parts, "\x00")
		if p, ok := pos[k]; ok {
			out[p] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

// CheckOutputs verifies every declared sub-result and column is present.
func CheckOutputs(def domain.Definition, rs *domain.ResultSet) error {
	for _, o := range def.Outputs {
		t, ok := rs.Table(o.Name)
		if !ok {
			return &PersistenceError{
				Table: o.Name,
				Err:   fmt.Errorf("%w: sub-result %s missing", ErrUnexpectedShape, o.Name),
			}
		}
		for _, c := range o.Columns {
			if t.ColumnIndex(c) < 0 {
				return &PersistenceError{
					Table: o.Name,
					Err:   fmt.Errorf("%w: column %s missing from %s", ErrUnexpectedShape, c, o.Name),
				}
			}
		}
	}
	return nil
}

var sortKeyLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 02, 2006",
	"01/02/2006",
}

func parseSortKey(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range sortKeyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Identifiers extracts catalog entries from a catalog-producing result.
func Identifiers(def domain.Definition, item domain.WorkItem, rs *domain.ResultSet) ([]domain.Identifier, error) {
	out := def.Catalog
	t, ok := rs.Table(out.Table)
	if !ok {
		return nil, &PersistenceError{
			Table: out.Table,
			Err:   fmt.Errorf("%w: catalog sub-result %s missing", ErrUnexpectedShape, out.Table),
		}
	}
	idCol := t.ColumnIndex(out.IDColumn)
	if idCol < 0 {
		return nil, &PersistenceError{
			Table: out.Table,
			Err:   fmt.Errorf("%w: catalog column %s missing", ErrUnexpectedShape, out.IDColumn),
		}
	}
	sortCol, secCol := -1, -1
	if out.SortColumn != "" {
		sortCol = t.ColumnIndex(out.SortColumn)
	}
	if out.SecondaryColumn != "" {
		secCol = t.ColumnIndex(out.SecondaryColumn)
	}

	ids := make([]domain.Identifier, 0, len(t.Rows))
	for _, row := range t.Rows {
		if idCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(textValue(row[idCol]))
		if id == "" {
			continue
		}
		ident := domain.Identifier{
			Partition: item.Partition.Name,
			Type:      out.Type,
			ID:        id,
		}
		if sortCol >= 0 && sortCol < len(row) {
			ident.SortKey = parseSortKey(textValue(row[sortCol]))
		}
		if secCol >= 0 && secCol < len(row) {
			ident.Secondary = strings.TrimSpace(textValue(row[secCol]))
		}
		ids = append(ids, ident)
	}
	return ids, nil
}
