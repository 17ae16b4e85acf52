package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	redisclient "github.com/vietddude/statsync/internal/infra/redis"
	"github.com/vietddude/statsync/internal/infra/source"
	"github.com/vietddude/statsync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Source     source.Config      `yaml:"source"`
	Collector  CollectorConfig    `yaml:"collector"`
	Partitions []PartitionConfig  `yaml:"partitions"`
	Datasets   []DatasetConfig    `yaml:"datasets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables the health server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// CollectorConfig tunes the reconciliation engine.
type CollectorConfig struct {
	TablePrefix      string               `yaml:"table_prefix"`
	ScanResultTables *bool                `yaml:"scan_result_tables"` // default: true
	MaxItems         int                  `yaml:"max_items"`          // 0 = unlimited
	EscalateAfter    int                  `yaml:"escalate_after"`     // 0 = never
	LeaseTTL         time.Duration        `yaml:"lease_ttl"`
	RateLimit        time.Duration        `yaml:"rate_limit"`
	Interval         time.Duration        `yaml:"interval"` // pause between rounds of `run`
	Pacing           PacingConfig         `yaml:"pacing"`
	Retry            RetryConfig          `yaml:"retry"`
	ExternalCatalogs []domain.CatalogType `yaml:"external_catalogs"` // types filled outside statsync
}

// ScanTables reports whether result tables count as evidence of collection.
func (c CollectorConfig) ScanTables() bool {
	return c.ScanResultTables == nil || *c.ScanResultTables
}

// PacingConfig holds the spacing between remote calls.
type PacingConfig struct {
	MinDelay       time.Duration `yaml:"min_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	FailureFactor  float64       `yaml:"failure_factor"`
	RecoveryStreak int           `yaml:"recovery_streak"`
}

// RetryConfig holds the per-item retry schedule.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PartitionConfig seeds one catalog partition.
type PartitionConfig struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"` // defaults to the well-known code for the name
}

// DatasetConfig declares one data source.
type DatasetConfig struct {
	Name           string            `yaml:"name"`
	Endpoint       string            `yaml:"endpoint"`
	Priority       string            `yaml:"priority"` // high, medium, low
	PartitionParam string            `yaml:"partition_param"`
	Params         []string          `yaml:"params"` // parameters the endpoint requires
	Dimensions     []DimensionConfig `yaml:"dimensions"`
	Static         map[string]string `yaml:"static"`
	Outputs        []OutputConfig    `yaml:"outputs"`
	Catalog        *CatalogConfig    `yaml:"catalog"`
	NaturalKey     []string          `yaml:"natural_key"`
	Refresh        string            `yaml:"refresh"` // current: re-fetch the season in progress
}

// DimensionConfig declares one axis of a dataset.
type DimensionConfig struct {
	Name        string   `yaml:"name"`
	Param       string   `yaml:"param"`
	Source      string   `yaml:"source"` // catalog, observed, values, seasons, current_season
	CatalogType string   `yaml:"catalog_type"`
	Values      []string `yaml:"values"`
	FromYear    int      `yaml:"from_year"`
	Kind        string   `yaml:"kind"` // game_id, numeric, season
}

// OutputConfig declares the columns a sub-result must carry.
type OutputConfig struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

// CatalogConfig declares how a dataset refreshes the reference catalog.
type CatalogConfig struct {
	Table           string `yaml:"table"`
	Type            string `yaml:"type"`
	IDColumn        string `yaml:"id_column"`
	SortColumn      string `yaml:"sort_column"`
	SecondaryColumn string `yaml:"secondary_column"`
}

var dimensionSources = []domain.DimensionSource{
	domain.DimensionCatalog,
	domain.DimensionObserved,
	domain.DimensionValues,
	domain.DimensionSeasons,
	domain.DimensionCurrentSeason,
}

var paramKinds = []domain.ParamKind{
	domain.KindText,
	domain.KindGameID,
	domain.KindNumeric,
	domain.KindSeason,
}

// Definition converts the dataset into its domain form.
func (d DatasetConfig) Definition() (domain.Definition, error) {
	priority, err := domain.ParsePriority(d.Priority)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("dataset %s: %w", d.Name, err)
	}

	def := domain.Definition{
		Name:           d.Name,
		Endpoint:       d.Endpoint,
		Priority:       priority,
		PartitionParam: d.PartitionParam,
		NaturalKey:     d.NaturalKey,
		Refresh:        domain.RefreshPolicy(strings.ToLower(d.Refresh)),
	}
	if def.Endpoint == "" {
		def.Endpoint = d.Name
	}

	for _, dim := range d.Dimensions {
		src := domain.DimensionSource(strings.ToLower(dim.Source))
		if !slices.Contains(dimensionSources, src) {
			return domain.Definition{}, fmt.Errorf("dataset %s: unknown dimension source %q", d.Name, dim.Source)
		}
		kind := domain.ParamKind(strings.ToLower(dim.Kind))
		if !slices.Contains(paramKinds, kind) {
			return domain.Definition{}, fmt.Errorf("dataset %s: unknown parameter kind %q", d.Name, dim.Kind)
		}
		def.Dimensions = append(def.Dimensions, domain.Dimension{
			Name:        dim.Name,
			Param:       dim.Param,
			Source:      src,
			CatalogType: domain.CatalogType(strings.ToLower(dim.CatalogType)),
			Values:      dim.Values,
			FromYear:    dim.FromYear,
			Kind:        kind,
		})
	}

	names := make([]string, 0, len(d.Static))
	for name := range d.Static {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def.Static = append(def.Static, domain.Param{Name: name, Value: d.Static[name]})
	}

	for _, o := range d.Outputs {
		def.Outputs = append(def.Outputs, domain.OutputSchema{Name: o.Name, Columns: o.Columns})
	}

	switch def.Refresh {
	case domain.RefreshNone:
	case domain.RefreshCurrent:
		if !slices.ContainsFunc(def.Dimensions, seasonDimension) {
			return domain.Definition{}, fmt.Errorf("dataset %s: refresh %q needs a season dimension", d.Name, d.Refresh)
		}
		// Re-fetched rows must replace the earlier ones.
		if len(def.NaturalKey) == 0 {
			return domain.Definition{}, fmt.Errorf("dataset %s: refresh %q needs a natural_key", d.Name, d.Refresh)
		}
	default:
		return domain.Definition{}, fmt.Errorf("dataset %s: unknown refresh policy %q", d.Name, d.Refresh)
	}

	if d.Catalog != nil {
		def.Catalog = &domain.CatalogOutput{
			Table:           d.Catalog.Table,
			Type:            domain.CatalogType(strings.ToLower(d.Catalog.Type)),
			IDColumn:        d.Catalog.IDColumn,
			SortColumn:      d.Catalog.SortColumn,
			SecondaryColumn: d.Catalog.SecondaryColumn,
		}
	}
	return def, nil
}

func seasonDimension(dim domain.Dimension) bool {
	switch dim.Kind {
	case domain.KindSeason:
		return true
	case domain.KindText:
		return dim.Source == domain.DimensionSeasons || dim.Source == domain.DimensionCurrentSeason
	}
	return false
}

// Validate checks the datasets as a whole. Per-dataset rules are enforced
// again when the definitions are registered.
func (c *AppConfig) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	produced := make(map[domain.CatalogType]bool)
	for _, t := range c.Collector.ExternalCatalogs {
		produced[t] = true
	}

	defs := make([]domain.Definition, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		if d.Name == "" {
			errs = append(errs, errors.New("dataset without a name"))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate dataset %s", d.Name))
			continue
		}
		seen[d.Name] = true

		def, err := d.Definition()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(def.Dimensions) == 0 {
			errs = append(errs, fmt.Errorf("dataset %s: no primary dimension", d.Name))
			continue
		}
		if def.Catalog != nil {
			produced[def.Catalog.Type] = true
		}
		defs = append(defs, def)
	}

	for _, def := range defs {
		for _, t := range def.Consumes() {
			if !produced[t] {
				errs = append(errs, fmt.Errorf("dataset %s: no dataset produces %s identifiers", def.Name, t))
			}
		}
	}

	partitions := make(map[string]bool)
	for _, p := range c.Partitions {
		if p.Name == "" {
			errs = append(errs, errors.New("partition without a name"))
			continue
		}
		if partitions[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate partition %s", p.Name))
		}
		partitions[p.Name] = true
	}
	return errors.Join(errs...)
}

// DomainPartitions returns the configured partitions with codes filled in.
func (c *AppConfig) DomainPartitions() []domain.Partition {
	out := make([]domain.Partition, 0, len(c.Partitions))
	for _, p := range c.Partitions {
		code := p.Code
		if code == "" {
			code = domain.PartitionCodes[p.Name]
		}
		out = append(out, domain.Partition{Name: p.Name, Code: code})
	}
	return out
}
