// Package redis provides a Redis-backed core.CounterStore.
//
// Document numbers are allocated with INCR, which is atomic on the server
// and creates the key at 1 when missing. Catalog and ledger data stay in
// the primary store; only counters move here.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/warp/clinic-engine/core"
)

// DefaultPrefix namespaces counter keys.
const DefaultPrefix = "counter:"

// Counter implements core.CounterStore.
type Counter struct {
	client redis.UniversalClient
	prefix string

	// TTL expires a counter after its first increment. Counter names are
	// day-scoped, so any TTL longer than a day is safe. Zero keeps keys forever.
	TTL time.Duration
}

var _ core.CounterStore = (*Counter)(nil)

// NewCounter wraps an existing client.
func NewCounter(client redis.UniversalClient, prefix string) *Counter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Counter{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", addr)
	}
	return client, nil
}

func (c *Counter) Increment(ctx context.Context, name string) (int64, error) {
	key := c.prefix + name
	value, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment counter %s", name)
	}
	if value == 1 && c.TTL > 0 {
		// A failed EXPIRE only keeps the key around longer.
		c.client.Expire(ctx, key, c.TTL)
	}
	return value, nil
}
