package resolver

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// Resolver expands a data source definition over the reference catalog into
// work items. Items are generated lazily; only the axis values are held in memory.
type Resolver struct {
	catalog storage.CatalogRepository
	now     func() time.Time
}

func New(catalog storage.CatalogRepository) *Resolver {
	return &Resolver{catalog: catalog, now: time.Now}
}

// SetClock overrides the time source used for generated seasons.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// entry is one value of an axis, with the companion values observed with it.
type entry struct {
	value    string
	observed []string
}

// Resolve returns the work items of def in partition, in catalog order. With a
// secondary dimension the sequence is the cross product primary x secondary.
func (r *Resolver) Resolve(
	ctx context.Context,
	def domain.Definition,
	partition domain.Partition,
) (iter.Seq[domain.WorkItem], error) {
	if len(def.Dimensions) == 0 {
		return nil, fmt.Errorf("data source %s has no dimensions", def.Name)
	}

	static := make([]domain.Param, 0, len(def.Static)+1)
	static = append(static, def.Static...)
	if def.PartitionParam != "" {
		code := partition.Code
		if code == "" {
			code = domain.PartitionCodes[partition.Name]
		}
		if code == "" {
			return nil, fmt.Errorf("partition %s has no code for %s", partition.Name, def.PartitionParam)
		}
		static = append(static, domain.Param{Name: def.PartitionParam, Value: code})
	}

	primary, err := r.axis(ctx, def.Dimensions[0], partition)
	if err != nil {
		return nil, err
	}

	newItem := func(values ...string) domain.WorkItem {
		keys := make([]domain.Key, len(values))
		for i, v := range values {
			dim := def.Dimensions[i]
			keys[i] = domain.Key{Column: dim.Name, Param: dim.Param, Kind: kindOf(dim), Value: v}
		}
		return domain.WorkItem{
			Source:    def.Name,
			Endpoint:  def.Endpoint,
			Partition: partition,
			Keys:      keys,
			Static:    static,
		}
	}

	if len(def.Dimensions) == 1 {
		return func(yield func(domain.WorkItem) bool) {
			for _, p := range primary {
				if !yield(newItem(p.value)) {
					return
				}
			}
		}, nil
	}

	second := def.Dimensions[1]
	if second.Source == domain.DimensionObserved {
		return func(yield func(domain.WorkItem) bool) {
			for _, p := range primary {
				for _, s := range p.observed {
					if !yield(newItem(p.value, s)) {
						return
					}
				}
			}
		}, nil
	}

	secondary, err := r.axis(ctx, second, partition)
	if err != nil {
		return nil, err
	}
	return func(yield func(domain.WorkItem) bool) {
		for _, p := range primary {
			for _, s := range secondary {
				if !yield(newItem(p.value, s.value)) {
					return
				}
			}
		}
	}, nil
}

func (r *Resolver) axis(
	ctx context.Context,
	dim domain.Dimension,
	partition domain.Partition,
) ([]entry, error) {
	switch dim.Source {
	case domain.DimensionCatalog:
		ids, err := r.catalog.ListIdentifiers(ctx, partition.Name, dim.CatalogType)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s identifiers: %w", dim.CatalogType, err)
		}
		return group(ids), nil

	case domain.DimensionValues:
		out := make([]entry, len(dim.Values))
		for i, v := range dim.Values {
			out[i] = entry{value: v}
		}
		return out, nil

	case domain.DimensionSeasons:
		latest := domain.SeasonStartYear(r.now())
		var out []entry
		for year := latest; year >= dim.FromYear; year-- {
			out = append(out, entry{value: domain.SeasonLabel(year)})
		}
		return out, nil

	case domain.DimensionCurrentSeason:
		return []entry{{value: domain.SeasonLabel(domain.SeasonStartYear(r.now()))}}, nil
	}
	return nil, fmt.Errorf("dimension %s: source %q cannot be used here", dim.Name, dim.Source)
}

// group collapses identifiers sharing an ID, keeping first-seen order and
// collecting their distinct secondary values.
func group(ids []domain.Identifier) []entry {
	pos := make(map[string]int, len(ids))
	seen := make(map[[2]string]bool)
	var out []entry
	for _, id := range ids {
		i, ok := pos[id.ID]
		if !ok {
			i = len(out)
			pos[id.ID] = i
			out = append(out, entry{value: id.ID})
		}
		if id.Secondary == "" || seen[[2]string{id.ID, id.Secondary}] {
			continue
		}
		seen[[2]string{id.ID, id.Secondary}] = true
		out[i].observed = append(out[i].observed, id.Secondary)
	}
	return out
}

// kindOf returns the validation kind of a dimension, inferred from its source
// when not set explicitly.
func kindOf(dim domain.Dimension) domain.ParamKind {
	if dim.Kind != "" {
		return dim.Kind
	}
	switch dim.Source {
	case domain.DimensionSeasons, domain.DimensionCurrentSeason:
		return domain.KindSeason
	case domain.DimensionCatalog:
		if dim.CatalogType == domain.CatalogGame {
			return domain.KindGameID
		}
		return domain.KindNumeric
	}
	return domain.KindText
}
