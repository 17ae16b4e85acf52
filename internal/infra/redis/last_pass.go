package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/statsync/internal/core/domain"
)

// lastPassTTL keeps summaries of passes that stopped running from lingering forever.
const lastPassTTL = 7 * 24 * time.Hour

// SaveLastPass stores the summary of the most recent pass.
func (c *Client) SaveLastPass(ctx context.Context, s *domain.PassSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal pass summary: %w", err)
	}
	if err := c.rdb.Set(ctx, lastPassKey(s.Source, s.Partition), data, lastPassTTL).Err(); err != nil {
		return fmt.Errorf("failed to save pass summary: %w", err)
	}
	return nil
}

// LastPass returns the summary of the most recent pass, or nil if none is stored.
func (c *Client) LastPass(ctx context.Context, source, partition string) (*domain.PassSummary, error) {
	data, err := c.rdb.Get(ctx, lastPassKey(source, partition)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	var s domain.PassSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pass summary: %w", err)
	}
	return &s, nil
}
