package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder's token may extend or drop a lease.
var (
	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// Lease is a held claim on one (source, partition) pass.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLease claims the pass for ttl. It returns nil, nil when another
// worker holds it.
func (c *Client) AcquireLease(
	ctx context.Context,
	source, partition string,
	ttl time.Duration,
) (*Lease, error) {
	key := leaseKey(source, partition)
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: c, key: key, token: token, ttl: ttl}, nil
}

// Refresh extends the lease by its ttl.
func (l *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.key)
	}
	return nil
}

// Release drops the lease if it is still held.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	return nil
}

// TTL returns the lease duration.
func (l *Lease) TTL() time.Duration {
	return l.ttl
}
