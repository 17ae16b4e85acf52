package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/statsync/internal/core/domain"
)

// CompletionRepo implements storage.CompletionRepository using PostgreSQL.
type CompletionRepo struct {
	db *DB
}

// NewCompletionRepo creates a new PostgreSQL completion repository.
func NewCompletionRepo(db *DB) *CompletionRepo {
	return &CompletionRepo{db: db}
}

// Signatures returns every collected signature of a source.
func (r *CompletionRepo) Signatures(
	ctx context.Context,
	source string,
) (map[domain.Signature]struct{}, error) {
	query := `
		SELECT signature
		FROM collection_completions
		WHERE source = $1
	`
	var sigs []string
	if err := r.db.conn().SelectContext(ctx, &sigs, query, source); err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	out := make(map[domain.Signature]struct{}, len(sigs))
	for _, s := range sigs {
		out[domain.Signature(s)] = struct{}{}
	}
	return out, nil
}

// Count returns the number of collected items of a source.
func (r *CompletionRepo) Count(ctx context.Context, source string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM collection_completions
		WHERE source = $1
	`
	var count int
	if err := r.db.conn().GetContext(ctx, &count, query, source); err != nil {
		return 0, fmt.Errorf("failed to count completions: %w", err)
	}
	return count, nil
}
