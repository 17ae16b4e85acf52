package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

type table struct {
	schema []storage.ColumnDef
	key    []string
	rows   [][]any
}

func (t *table) index(column string) int {
	for i, c := range t.schema {
		if c.Name == column {
			return i
		}
	}
	return -1
}

// MemoryStorage keeps the catalog, result tables, completions and ledger in process.
// Used when no database URL is configured and by tests.
type MemoryStorage struct {
	partitions  map[string]domain.Partition
	identifiers map[string]domain.Identifier
	tables      map[string]*table
	completions map[string]map[domain.Signature]domain.Completion
	failures    map[string]*domain.FailureRecord
	now         func() time.Time
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions:  make(map[string]domain.Partition),
		identifiers: make(map[string]domain.Identifier),
		tables:      make(map[string]*table),
		completions: make(map[string]map[domain.Signature]domain.Completion),
		failures:    make(map[string]*domain.FailureRecord),
		now:         time.Now,
	}
}

// SetClock overrides the time source used for ledger timestamps.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.now = now
}

// Ensure always succeeds; memory storage has no connection to lose.
func (s *MemoryStorage) Ensure(ctx context.Context) error {
	return ctx.Err()
}

// CreateTable installs a result table directly, for seeding pre-existing data.
func (s *MemoryStorage) CreateTable(name string, schema []storage.ColumnDef, rows [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &table{schema: slices.Clone(schema), rows: rows}
}

// Rows returns a copy of a table's rows.
func (s *MemoryStorage) Rows(name string) [][]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	return slices.Clone(t.rows)
}

func identifierKey(id domain.Identifier) string {
	return strings.Join([]string{id.Partition, string(id.Type), id.ID, id.Secondary}, "\x00")
}

func failureKey(source string, sig domain.Signature) string {
	return source + "\x00" + string(sig)
}

// -----------------------------------------------------------------------------
// Catalog Repository
// -----------------------------------------------------------------------------

type CatalogRepo struct {
	store *MemoryStorage
}

func NewCatalogRepo(store *MemoryStorage) *CatalogRepo {
	return &CatalogRepo{store: store}
}

func (r *CatalogRepo) ListPartitions(ctx context.Context) ([]domain.Partition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Partition, 0, len(r.store.partitions))
	for _, p := range r.store.partitions {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Partition) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *CatalogRepo) SavePartitions(ctx context.Context, partitions []domain.Partition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range partitions {
		r.store.partitions[p.Name] = p
	}
	return nil
}

// AddIdentifiers seeds the catalog outside a unit of work.
func (r *CatalogRepo) AddIdentifiers(ids ...domain.Identifier) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.putIdentifiers(ids)
}

func (r *CatalogRepo) ListIdentifiers(
	ctx context.Context,
	partition string,
	catalogType domain.CatalogType,
) ([]domain.Identifier, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []domain.Identifier
	for _, id := range r.store.identifiers {
		if id.Partition == partition && id.Type == catalogType {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, compareIdentifiers)
	return out, nil
}

func (r *CatalogRepo) CountIdentifiers(
	ctx context.Context,
	partition string,
) (map[domain.CatalogType]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.CatalogType]int)
	seen := make(map[string]bool)
	for _, id := range r.store.identifiers {
		k := string(id.Type) + "\x00" + id.ID
		if id.Partition != partition || seen[k] {
			continue
		}
		seen[k] = true
		counts[id.Type]++
	}
	return counts, nil
}

// compareIdentifiers orders by sort key descending (missing last), then id and secondary descending.
func compareIdentifiers(a, b domain.Identifier) int {
	switch {
	case a.SortKey != nil && b.SortKey == nil:
		return -1
	case a.SortKey == nil && b.SortKey != nil:
		return 1
	case a.SortKey != nil && b.SortKey != nil && !a.SortKey.Equal(*b.SortKey):
		return b.SortKey.Compare(*a.SortKey)
	}
	if c := cmp.Compare(b.ID, a.ID); c != 0 {
		return c
	}
	return cmp.Compare(b.Secondary, a.Secondary)
}

func (s *MemoryStorage) putIdentifiers(ids []domain.Identifier) {
	for _, id := range ids {
		k := identifierKey(id)
		if prev, ok := s.identifiers[k]; ok && id.SortKey == nil {
			id.SortKey = prev.SortKey
		}
		s.identifiers[k] = id
	}
}

// -----------------------------------------------------------------------------
// Result Store
// -----------------------------------------------------------------------------

type ResultStore struct {
	store *MemoryStorage
}

func NewResultStore(store *MemoryStorage) *ResultStore {
	return &ResultStore{store: store}
}

func (r *ResultStore) TableExists(ctx context.Context, name string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.tables[name]
	return ok, nil
}

func (r *ResultStore) ListTables(ctx context.Context, prefix string) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []string
	for name := range r.store.tables {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *ResultStore) Columns(ctx context.Context, name string) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.tables[name]
	if !ok {
		return nil, nil
	}
	cols := make([]string, len(t.schema))
	for i, c := range t.schema {
		cols[i] = c.Name
	}
	return cols, nil
}

func (r *ResultStore) Signatures(
	ctx context.Context,
	name string,
	columns []string,
) (map[domain.Signature]struct{}, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make(map[domain.Signature]struct{})
	t, ok := r.store.tables[name]
	if !ok {
		return out, nil
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %s not found in %s", c, name)
		}
	}
	values := make([]string, len(columns))
	for _, row := range t.rows {
		for i, j := range idx {
			values[i] = textValue(row[j])
		}
		out[domain.SignatureOf(values...)] = struct{}{}
	}
	return out, nil
}

func (r *ResultStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unitOfWork{store: r.store, created: make(map[string]*table)}, nil
}

func textValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

type unitOfWork struct {
	store   *MemoryStorage
	created map[string]*table
	ops     []func(s *MemoryStorage)
	done    bool
}

func (u *unitOfWork) lookup(name string) (*table, bool) {
	if t, ok := u.created[name]; ok {
		return t, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	t, ok := u.store.tables[name]
	return t, ok
}

func (u *unitOfWork) EnsureTable(
	ctx context.Context,
	name string,
	schema []storage.ColumnDef,
	key []string,
) ([]storage.ColumnDef, error) {
	if u.done {
		return nil, storage.ErrTransactionDone
	}
	if t, ok := u.lookup(name); ok {
		return slices.Clone(t.schema), nil
	}
	t := &table{schema: slices.Clone(schema), key: slices.Clone(key)}
	u.created[name] = t
	u.ops = append(u.ops, func(s *MemoryStorage) {
		if _, exists := s.tables[name]; !exists {
			s.tables[name] = &table{schema: t.schema, key: t.key}
		}
	})
	return slices.Clone(schema), nil
}

func (u *unitOfWork) Append(ctx context.Context, name string, columns []string, rows [][]any) error {
	if u.done {
		return storage.ErrTransactionDone
	}
	t, ok := u.lookup(name)
	if !ok {
		return fmt.Errorf("table %s does not exist", name)
	}
	projected, err := project(t, columns, rows)
	if err != nil {
		return err
	}
	u.ops = append(u.ops, func(s *MemoryStorage) {
		dst := s.tables[name]
		dst.rows = append(dst.rows, projected...)
	})
	return nil
}

func (u *unitOfWork) Upsert(
	ctx context.Context,
	name string,
	columns []string,
	key []string,
	rows [][]any,
) error {
	if u.done {
		return storage.ErrTransactionDone
	}
	t, ok := u.lookup(name)
	if !ok {
		return fmt.Errorf("table %s does not exist", name)
	}
	projected, err := project(t, columns, rows)
	if err != nil {
		return err
	}
	keyIdx := make([]int, len(key))
	for i, k := range key {
		if keyIdx[i] = t.index(k); keyIdx[i] < 0 {
			return fmt.Errorf("key column %s not found in %s", k, name)
		}
	}
	rowKey := func(row []any) string {
		parts := make([]string, len(keyIdx))
		for i, j := range keyIdx {
			parts[i] = textValue(row[j])
		}
		return strings.Join(parts, "\x00")
	}
	u.ops = append(u.ops, func(s *MemoryStorage) {
		dst := s.tables[name]
		pos := make(map[string]int, len(dst.rows))
		for i, row := range dst.rows {
			pos[rowKey(row)] = i
		}
		for _, row := range projected {
			k := rowKey(row)
			if i, ok := pos[k]; ok {
				dst.rows[i] = row
				continue
			}
			pos[k] = len(dst.rows)
			dst.rows = append(dst.rows, row)
		}
	})
	return nil
}

// project reorders rows onto the table schema, filling absent columns with nil.
func project(t *table, columns []string, rows [][]any) ([][]any, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		if idx[i] = t.index(c); idx[i] < 0 {
			return nil, fmt.Errorf("column %s not found", c)
		}
	}
	out := make([][]any, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		dst := make([]any, len(t.schema))
		for i, j := range idx {
			dst[j] = row[i]
		}
		out[r] = dst
	}
	return out, nil
}

func (u *unitOfWork) UpsertIdentifiers(ctx context.Context, ids []domain.Identifier) error {
	if u.done {
		return storage.ErrTransactionDone
	}
	staged := slices.Clone(ids)
	u.ops = append(u.ops, func(s *MemoryStorage) { s.putIdentifiers(staged) })
	return nil
}

func (u *unitOfWork) MarkCollected(ctx context.Context, c domain.Completion) error {
	if u.done {
		return storage.ErrTransactionDone
	}
	u.ops = append(u.ops, func(s *MemoryStorage) {
		bySig, ok := s.completions[c.Source]
		if !ok {
			bySig = make(map[domain.Signature]domain.Completion)
			s.completions[c.Source] = bySig
		}
		bySig[c.Signature] = c
	})
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return storage.ErrTransactionDone
	}
	u.done = true
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, op := range u.ops {
		op(u.store)
	}
	u.ops = nil
	return nil
}

func (u *unitOfWork) Rollback() error {
	u.done = true
	u.ops = nil
	return nil
}

// -----------------------------------------------------------------------------
// Completion Repository
// -----------------------------------------------------------------------------

type CompletionRepo struct {
	store *MemoryStorage
}

func NewCompletionRepo(store *MemoryStorage) *CompletionRepo {
	return &CompletionRepo{store: store}
}

func (r *CompletionRepo) Signatures(
	ctx context.Context,
	source string,
) (map[domain.Signature]struct{}, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[domain.Signature]struct{}, len(r.store.completions[source]))
	for sig := range r.store.completions[source] {
		out[sig] = struct{}{}
	}
	return out, nil
}

func (r *CompletionRepo) Count(ctx context.Context, source string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.completions[source]), nil
}

// -----------------------------------------------------------------------------
// Failure Ledger
// -----------------------------------------------------------------------------

type LedgerRepo struct {
	store *MemoryStorage
}

func NewLedgerRepo(store *MemoryStorage) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Record(
	ctx context.Context,
	rec domain.FailureRecord,
) (*domain.FailureRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	k := failureKey(rec.Source, rec.Signature)
	cur, ok := r.store.failures[k]
	if !ok {
		cur = &domain.FailureRecord{
			Source:      rec.Source,
			Signature:   rec.Signature,
			Partition:   rec.Partition,
			FirstFailed: now,
		}
		r.store.failures[k] = cur
	}
	cur.Classification = cur.Classification.Merge(rec.Classification)
	cur.Message = domain.TruncateMessage(rec.Message)
	cur.AttemptCount++
	cur.LastAttempt = now

	out := *cur
	return &out, nil
}

func (r *LedgerRepo) Resolve(ctx context.Context, source string, sig domain.Signature) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := failureKey(source, sig)
	if cur, ok := r.store.failures[k]; ok && cur.Classification == domain.ClassTransient {
		delete(r.store.failures, k)
	}
	return nil
}

func (r *LedgerRepo) Escalate(
	ctx context.Context,
	source string,
	sig domain.Signature,
	partition, reason string,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := r.store.now()
	k := failureKey(source, sig)
	cur, ok := r.store.failures[k]
	if !ok {
		cur = &domain.FailureRecord{
			Source:      source,
			Signature:   sig,
			Partition:   partition,
			FirstFailed: now,
			LastAttempt: now,
		}
		r.store.failures[k] = cur
	}
	cur.Classification = domain.ClassPermanent
	if reason != "" {
		cur.Message = domain.TruncateMessage(reason)
	}
	return nil
}

func (r *LedgerRepo) PermanentSignatures(
	ctx context.Context,
	source string,
) (map[domain.Signature]struct{}, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[domain.Signature]struct{})
	for _, rec := range r.store.failures {
		if rec.Source == source && rec.Classification == domain.ClassPermanent {
			out[rec.Signature] = struct{}{}
		}
	}
	return out, nil
}

// Get returns a copy of one ledger entry, or nil.
func (r *LedgerRepo) Get(source string, sig domain.Signature) *domain.FailureRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cur, ok := r.store.failures[failureKey(source, sig)]
	if !ok {
		return nil
	}
	out := *cur
	return &out
}

func (r *LedgerRepo) List(
	ctx context.Context,
	filter storage.LedgerFilter,
) ([]*domain.FailureRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.FailureRecord
	for _, rec := range r.store.failures {
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		if filter.Classification != "" && rec.Classification != filter.Classification {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.FailureRecord) int {
		if c := b.LastAttempt.Compare(a.LastAttempt); c != 0 {
			return c
		}
		return cmp.Compare(a.Signature, b.Signature)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *LedgerRepo) Counts(ctx context.Context) ([]storage.LedgerCount, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	agg := make(map[[2]string]int)
	for _, rec := range r.store.failures {
		agg[[2]string{rec.Source, string(rec.Classification)}]++
	}
	out := make([]storage.LedgerCount, 0, len(agg))
	for k, n := range agg {
		out = append(out, storage.LedgerCount{
			Source:         k[0],
			Classification: domain.Classification(k[1]),
			Count:          n,
		})
	}
	slices.SortFunc(out, func(a, b storage.LedgerCount) int {
		if c := cmp.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.Classification, b.Classification)
	})
	return out, nil
}
