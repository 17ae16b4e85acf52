package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/statsync/internal/core/domain"
)

// CatalogRepo implements storage.CatalogRepository using PostgreSQL.
type CatalogRepo struct {
	db *DB
}

// NewCatalogRepo creates a new PostgreSQL catalog repository.
func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// ListPartitions returns every known partition.
func (r *CatalogRepo) ListPartitions(ctx context.Context) ([]domain.Partition, error) {
	query := `SELECT name, code FROM partitions ORDER BY name`
	var partitions []domain.Partition
	if err := r.db.conn().SelectContext(ctx, &partitions, query); err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return partitions, nil
}

// SavePartitions upserts partitions by name.
func (r *CatalogRepo) SavePartitions(ctx context.Context, partitions []domain.Partition) error {
	query := `
		INSERT INTO partitions (name, code, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET code = EXCLUDED.code, updated_at = NOW()
	`
	for _, p := range partitions {
		if _, err := r.db.conn().ExecContext(ctx, query, p.Name, p.Code); err != nil {
			return fmt.Errorf("failed to save partition %s: %w", p.Name, err)
		}
	}
	return nil
}

// ListIdentifiers returns identifiers most recent first.
func (r *CatalogRepo) ListIdentifiers(
	ctx context.Context,
	partition string,
	catalogType domain.CatalogType,
) ([]domain.Identifier, error) {
	query := `
		SELECT entity_id, secondary, sort_key
		FROM catalog_entities
		WHERE partition_name = $1 AND catalog_type = $2
		ORDER BY sort_key DESC NULLS LAST, entity_id DESC, secondary DESC
	`

	var rows []struct {
		EntityID  string       `db:"entity_id"`
		Secondary string       `db:"secondary"`
		SortKey   sql.NullTime `db:"sort_key"`
	}
	if err := r.db.conn().SelectContext(ctx, &rows, query, partition, string(catalogType)); err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}

	ids := make([]domain.Identifier, 0, len(rows))
	for _, row := range rows {
		id := domain.Identifier{
			Partition: partition,
			Type:      catalogType,
			ID:        row.EntityID,
			Secondary: row.Secondary,
		}
		if row.SortKey.Valid {
			t := row.SortKey.Time
			id.SortKey = &t
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountIdentifiers returns the number of distinct entities per catalog type.
func (r *CatalogRepo) CountIdentifiers(
	ctx context.Context,
	partition string,
) (map[domain.CatalogType]int, error) {
	query := `
		SELECT catalog_type, COUNT(DISTINCT entity_id) AS count
		FROM catalog_entities
		WHERE partition_name = $1
		GROUP BY catalog_type
	`
	var rows []struct {
		Type  string `db:"catalog_type"`
		Count int    `db:"count"`
	}
	if err := r.db.conn().SelectContext(ctx, &rows, query, partition); err != nil {
		return nil, fmt.Errorf("failed to count identifiers: %w", err)
	}
	counts := make(map[domain.CatalogType]int, len(rows))
	for _, row := range rows {
		counts[domain.CatalogType(row.Type)] = row.Count
	}
	return counts, nil
}
