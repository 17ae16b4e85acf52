package control

import (
	"context"
	"fmt"

	"github.com/vietddude/statsync/internal/core/domain"
)

// DatasetStatus summarizes one dataset for operators.
type DatasetStatus struct {
	Name      string
	Priority  domain.Priority
	Producer  bool
	Collected int
	Transient int
	Permanent int
	LastPass  map[string]*domain.PassSummary // by partition, only when Redis is configured
}

// PartitionStatus counts catalog identifiers of one partition.
type PartitionStatus struct {
	Partition   domain.Partition
	Identifiers map[domain.CatalogType]int
}

// StatusReport is the operator view of collection progress.
type StatusReport struct {
	Partitions []PartitionStatus
	Datasets   []DatasetStatus
}

// Status gathers catalog, completion and ledger figures.
func (a *App) Status(ctx context.Context) (*StatusReport, error) {
	partitions, err := a.catalog.ListPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	report := &StatusReport{}
	for _, p := range partitions {
		counts, err := a.catalog.CountIdentifiers(ctx, p.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to count identifiers of %s: %w", p.Name, err)
		}
		report.Partitions = append(report.Partitions, PartitionStatus{Partition: p, Identifiers: counts})
	}

	ledgerCounts, err := a.ledger.Counts(ctx)
	if err != nil {
		return nil, err
	}
	byClass := make(map[string]map[domain.Classification]int)
	for _, c := range ledgerCounts {
		if byClass[c.Source] == nil {
			byClass[c.Source] = make(map[domain.Classification]int)
		}
		byClass[c.Source][c.Classification] = c.Count
	}

	order, err := a.registry.Plan(nil)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		entry, err := a.registry.Get(name)
		if err != nil {
			return nil, err
		}
		collected, err := a.completions.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		ds := DatasetStatus{
			Name:      name,
			Priority:  entry.Definition.Priority,
			Producer:  entry.Definition.CatalogProducing(),
			Collected: collected,
			Transient: byClass[name][domain.ClassTransient],
			Permanent: byClass[name][domain.ClassPermanent],
		}

		if a.redisClient != nil {
			ds.LastPass = make(map[string]*domain.PassSummary)
			for _, p := range partitions {
				last, err := a.redisClient.LastPass(ctx, name, p.Name)
				if err != nil {
					a.log.Warn("Failed to read last pass", "dataset", name, "partition", p.Name, "error", err)
					continue
				}
				if last != nil {
					ds.LastPass[p.Name] = last
				}
			}
		}
		report.Datasets = append(report.Datasets, ds)
	}
	return report, nil
}
