package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/source"
)

var (
	// ErrDuplicate is returned when a data source name is registered twice
	ErrDuplicate = errors.New("data source already registered")

	// ErrNotFound is returned for an unregistered data source
	ErrNotFound = errors.New("data source not registered")

	// ErrInvalidDefinition is returned when a definition cannot produce work items
	ErrInvalidDefinition = errors.New("invalid data source definition")

	// ErrDependencyCycle is returned when catalog producers depend on each other
	ErrDependencyCycle = errors.New("catalog dependency cycle")
)

// Entry pairs a definition with the fetcher that serves it.
type Entry struct {
	Definition domain.Definition
	Fetcher    source.Fetcher
}

// Registry maps data source names to their definitions and fetchers.
// Dispatch is an explicit lookup; nothing is discovered at runtime.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a data source.
func (r *Registry) Register(def domain.Definition, fetcher source.Fetcher) error {
	if err := validate(def, fetcher); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
	}
	r.entries[def.Name] = &Entry{Definition: def, Fetcher: fetcher}
	return nil
}

func validate(def domain.Definition, fetcher source.Fetcher) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, def.Name, fmt.Sprintf(format, args...))
	}

	if def.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if fetcher == nil {
		return invalid("no fetcher")
	}
	if n := len(def.Dimensions); n == 0 || n > 2 {
		return invalid("want 1 or 2 dimensions, got %d", n)
	}

	for i, dim := range def.Dimensions {
		if dim.Name == "" || dim.Param == "" {
			return invalid("dimension %d needs a column and a parameter name", i)
		}
		switch dim.Source {
		case domain.DimensionCatalog:
			if !dim.CatalogType.Valid() {
				return invalid("dimension %s has unknown catalog type %q", dim.Name, dim.CatalogType)
			}
		case domain.DimensionObserved:
			if i == 0 || def.Dimensions[0].Source != domain.DimensionCatalog {
				return invalid("observed dimension %s must follow a catalog dimension", dim.Name)
			}
		case domain.DimensionValues:
			if len(dim.Values) == 0 {
				return invalid("dimension %s has no values", dim.Name)
			}
		case domain.DimensionSeasons:
			if dim.FromYear <= 0 {
				return invalid("dimension %s needs from_year", dim.Name)
			}
		case domain.DimensionCurrentSeason:
		default:
			return invalid("dimension %s has unknown source %q", dim.Name, dim.Source)
		}
	}

	if c := def.Catalog; c != nil {
		if c.Table == "" || c.IDColumn == "" || !c.Type.Valid() {
			return invalid("catalog output needs a table, an id column and a known type")
		}
	}

	if d, ok := fetcher.(source.ParamDescriber); ok {
		required, err := d.RequiredParams()
		if err != nil {
			return invalid("required params: %v", err)
		}
		provided := make(map[string]bool)
		for _, dim := range def.Dimensions {
			provided[dim.Param] = true
		}
		for _, p := range def.Static {
			provided[p.Name] = true
		}
		if def.PartitionParam != "" {
			provided[def.PartitionParam] = true
		}
		for _, p := range required {
			if !provided[p] {
				return invalid("required parameter %s is not provided", p)
			}
		}
	}
	return nil
}

// Get returns a registered data source.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RequiredParams enumerates the parameter names a data source sends.
func (r *Registry) RequiredParams(name string) ([]string, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if d, ok := e.Fetcher.(source.ParamDescriber); ok {
		return d.RequiredParams()
	}
	def := e.Definition
	var params []string
	for _, dim := range def.Dimensions {
		params = append(params, dim.Param)
	}
	for _, p := range def.Static {
		params = append(params, p.Name)
	}
	if def.PartitionParam != "" {
		params = append(params, def.PartitionParam)
	}
	return params, nil
}

// Plan orders data sources for a run: every catalog producer comes before the
// sources consuming its catalog type, then higher priority first, then by name.
// An empty names list plans every registered source.
func (r *Registry) Plan(names []string) ([]string, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	defs := make(map[string]domain.Definition, len(names))
	for _, name := range names {
		e, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		defs[name] = e.Definition
	}

	producers := make(map[domain.CatalogType][]string)
	for name, def := range defs {
		if def.Catalog != nil {
			producers[def.Catalog.Type] = append(producers[def.Catalog.Type], name)
		}
	}

	// Edges run producer -> consumer.
	indegree := make(map[string]int, len(defs))
	edges := make(map[string][]string)
	for name := range defs {
		indegree[name] += 0
	}
	for name, def := range defs {
		for _, t := range def.Consumes() {
			for _, p := range producers[t] {
				if p == name {
					continue
				}
				edges[p] = append(edges[p], name)
				indegree[name]++
			}
		}
	}

	less := func(a, b string) int {
		if c := cmp.Compare(defs[a].Priority, defs[b].Priority); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(defs))
	for len(ready) > 0 {
		slices.SortFunc(ready, less)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, c := range edges[next] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(defs) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		slices.Sort(stuck)
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, stuck)
	}
	return order, nil
}
