package gap

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/persist"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// Resolver expands a definition into work items.
type Resolver interface {
	Resolve(ctx context.Context, def domain.Definition, partition domain.Partition) (iter.Seq[domain.WorkItem], error)
}

// Config controls where the detector looks for collected items.
type Config struct {
	TablePrefix string
	// ScanTables adds row presence in result tables to the completion records.
	ScanTables bool
	// Siblings lists every data source name, so tables of a longer sibling
	// name sharing this source's prefix are not mistaken for its own.
	Siblings func() []string
	// Now dates the season in progress for refreshing sources (default: time.Now).
	Now func() time.Time
}

// Stats describes the sets a gap computation was based on.
type Stats struct {
	Collected     int      // signatures already collected
	Excluded      int      // permanent failures
	Tables        []string // result tables scanned
	SkippedTables []string // tables lacking a dimension column
}

// Detector finds uncollected work items without calling the remote source.
// It uses completion records, result tables and the ledger only.
type Detector struct {
	config      Config
	resolver    Resolver
	results     storage.ResultStore
	completions storage.CompletionRepository
	ledger      storage.FailureLedger
	log         *slog.Logger
}

func NewDetector(
	config Config,
	resolver Resolver,
	results storage.ResultStore,
	completions storage.CompletionRepository,
	ledger storage.FailureLedger,
) *Detector {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Detector{
		config:      config,
		resolver:    resolver,
		results:     results,
		completions: completions,
		ledger:      ledger,
		log:         slog.Default().With("component", "gap"),
	}
}

// Missing returns the work items of def in partition that are neither
// collected nor permanently failed, in catalog order. Collected items the
// definition refreshes stay eligible. Storage is read once here; the returned
// sequence does no further I/O.
func (d *Detector) Missing(
	ctx context.Context,
	def domain.Definition,
	partition domain.Partition,
) (iter.Seq[domain.WorkItem], *Stats, error) {
	candidates, err := d.resolver.Resolve(ctx, def, partition)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve work items: %w", err)
	}

	collected, stats, err := d.Collected(ctx, def)
	if err != nil {
		return nil, nil, err
	}

	excluded, err := d.ledger.PermanentSignatures(ctx, def.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	stats.Excluded = len(excluded)
	current := domain.SeasonLabel(domain.SeasonStartYear(d.config.Now()))

	missing := func(yield func(domain.WorkItem) bool) {
		for item := range candidates {
			sig := item.Signature()
			if _, ok := collected[sig]; ok && !def.Refreshes(item, current) {
				continue
			}
			if _, ok := excluded[sig]; ok {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
	return missing, stats, nil
}

// Collected returns every signature of def already stored: completion records
// plus, when enabled, row presence in the source's result tables.
func (d *Detector) Collected(
	ctx context.Context,
	def domain.Definition,
) (map[domain.Signature]struct{}, *Stats, error) {
	collected, err := d.completions.Signatures(ctx, def.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read completions: %w", err)
	}
	if collected == nil {
		collected = make(map[domain.Signature]struct{})
	}
	stats := &Stats{}

	if d.config.ScanTables {
		if err := d.scanTables(ctx, def, collected, stats); err != nil {
			return nil, nil, err
		}
	}
	stats.Collected = len(collected)
	return collected, stats, nil
}

func (d *Detector) scanTables(
	ctx context.Context,
	def domain.Definition,
	collected map[domain.Signature]struct{},
	stats *Stats,
) error {
	prefix := persist.TablePrefix(d.config.TablePrefix, def.Name)
	tables, err := d.results.ListTables(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list result tables: %w", err)
	}
	var siblings []string
	if d.config.Siblings != nil {
		siblings = d.config.Siblings()
	}
	tables = persist.Owned(tables, d.config.TablePrefix, def.Name, siblings)

	dims := make([]string, len(def.Dimensions))
	for i, dim := range def.Dimensions {
		dims[i] = persist.DimensionColumn(dim.Name)
	}

	for _, table := range tables {
		columns, err := d.results.Columns(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		if missing := missingColumns(columns, dims); len(missing) > 0 {
			// Nothing in this table can be trusted as collected; its items are re-attempted.
			d.log.Warn("Result table lacks dimension columns, ignoring its rows",
				"source", def.Name,
				"table", table,
				"missing", missing,
			)
			stats.SkippedTables = append(stats.SkippedTables, table)
			continue
		}

		sigs, err := d.results.Signatures(ctx, table, dims)
		if err != nil {
			return fmt.Errorf("failed to read signatures of %s: %w", table, err)
		}
		for sig := range sigs {
			collected[sig] = struct{}{}
		}
		stats.Tables = append(stats.Tables, table)
	}
	return nil
}

func missingColumns(have, want []string) []string {
	var out []string
	for _, c := range want {
		if !slices.Contains(have, c) {
			out = append(out, c)
		}
	}
	return out
}
