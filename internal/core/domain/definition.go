package domain

import (
	"fmt"
	"strings"
)

// Priority is the scheduling tier of a data source.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses a tier name. Empty input means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// DimensionSource says where the values of a dimension come from.
type DimensionSource string

const (
	DimensionCatalog       DimensionSource = "catalog"        // identifiers of a catalog type
	DimensionObserved      DimensionSource = "observed"       // Identifier.Secondary of the primary dimension
	DimensionValues        DimensionSource = "values"         // explicit list
	DimensionSeasons       DimensionSource = "seasons"        // season labels, newest first
	DimensionCurrentSeason DimensionSource = "current_season" // single generated season label
)

// ParamKind selects the validation applied to a parameter value.
type ParamKind string

const (
	KindText    ParamKind = ""
	KindGameID  ParamKind = "game_id"
	KindNumeric ParamKind = "numeric"
	KindSeason  ParamKind = "season"
)

// Dimension is one axis of a data source's work space.
type Dimension struct {
	Name        string // storage column, e.g. "player_id"
	Param       string // remote parameter, e.g. "PlayerID"
	Source      DimensionSource
	CatalogType CatalogType
	Values      []string
	FromYear    int
	Kind        ParamKind
}

// Param is a named remote parameter value.
type Param struct {
	Name  string
	Value string
}

// OutputSchema declares the columns a sub-result must carry.
type OutputSchema struct {
	Name    string
	Columns []string
}

// CatalogOutput describes how a catalog-producing source yields identifiers.
type CatalogOutput struct {
	Table           string
	Type            CatalogType
	IDColumn        string
	SortColumn      string
	SecondaryColumn string
}

// RefreshPolicy says which collected items are fetched again on every pass.
type RefreshPolicy string

const (
	RefreshNone    RefreshPolicy = ""
	RefreshCurrent RefreshPolicy = "current" // items keyed by the season in progress
)

// Definition describes a data source: what to call and what it depends on.
type Definition struct {
	Name           string
	Endpoint       string
	Priority       Priority
	PartitionParam string
	Dimensions     []Dimension
	Static         []Param
	Outputs        []OutputSchema
	Catalog        *CatalogOutput
	NaturalKey     []string
	Refresh        RefreshPolicy
}

// CatalogProducing reports whether the source refreshes the reference catalog.
func (d Definition) CatalogProducing() bool {
	return d.Catalog != nil
}

// Consumes returns the catalog types the source's dimensions are drawn from.
func (d Definition) Consumes() []CatalogType {
	var out []CatalogType
	for _, dim := range d.Dimensions {
		if dim.Source == DimensionCatalog && dim.CatalogType != "" {
			out = append(out, dim.CatalogType)
		}
	}
	return out
}

// DimensionColumns returns the storage column of each dimension in order.
func (d Definition) DimensionColumns() []string {
	cols := make([]string, len(d.Dimensions))
	for i, dim := range d.Dimensions {
		cols[i] = dim.Name
	}
	return cols
}

// Refreshes reports whether item is fetched again even when already collected.
// Under RefreshCurrent that is any item with a season key equal to current.
func (d Definition) Refreshes(item WorkItem, current string) bool {
	if d.Refresh != RefreshCurrent {
		return false
	}
	for _, k := range item.Keys {
		if k.Kind == KindSeason && k.Value == current {
			return true
		}
	}
	return false
}
