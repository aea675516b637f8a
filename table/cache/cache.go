// Package cache puts a ristretto read cache in front of any table.Table.
//
// Checkpoints and pending writes are written once and read many times (every
// resume reads the same tuple), so point reads are cached; range queries are
// not, since new checkpoints keep landing under the same prefix.
//
// The cache only sees writes made through it. A backend other processes also
// write to serves this process stale items until the entry expires, so give
// it a TTL or leave it uncached.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64
)

// Table is a table.Table whose point reads go through a ristretto cache.
type Table struct {
	next  table.Table
	cache *ristretto.Cache
	ttl   time.Duration
}

type config struct {
	numCounters int64
	maxCost     int64
	ttl         time.Duration
}

// Option configures the cache.
type Option func(*config)

// WithNumCounters sets how many keys ristretto tracks admission stats for;
// roughly ten times the expected number of cached items.
func WithNumCounters(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.numCounters = n
		}
	}
}

// WithMaxCost bounds the cache size in bytes of cached attributes.
func WithMaxCost(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxCost = n
		}
	}
}

// WithTTL expires entries d after they were cached. Zero keeps them until
// evicted.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New wraps next with a read cache.
func New(next table.Table, opts ...Option) (*Table, error) {
	cfg := &config{
		numCounters: defaultNumCounters,
		maxCost:     defaultMaxCost,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.numCounters,
		MaxCost:     cfg.maxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create item cache: %w", err)
	}

	return &Table{next: next, cache: c, ttl: cfg.ttl}, nil
}

func cacheKey(key keys.CompositeKey) string {
	return key.PK + "\x00" + key.SK
}

// Get serves key from the cache, filling it from the wrapped table on a miss.
func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	if cached, ok := t.cache.Get(cacheKey(key)); ok {
		if item, ok := cached.(table.Item); ok {
			return item.Clone(), nil
		}
	}

	item, err := t.next.Get(ctx, key)
	if err != nil {
		return nil, xerror.Wrap(err)
	}

	t.cache.SetWithTTL(cacheKey(key), item.Clone(), item.Size(), t.ttl)
	return item, nil
}

// Put writes through, then refreshes the cached copy and waits for ristretto
// to apply it, so a later Get never sees the value this Put replaced.
func (t *Table) Put(ctx context.Context, key keys.CompositeKey, item table.Item) error {
	t.cache.Del(cacheKey(key))

	if err := t.next.Put(ctx, key, item); err != nil {
		return xerror.Wrap(err)
	}

	t.cache.SetWithTTL(cacheKey(key), item.Clone(), item.Size(), t.ttl)
	t.cache.Wait()
	return nil
}

// Query always reads the wrapped table.
func (t *Table) Query(ctx context.Context, q table.Query) ([]keys.CompositeKey, error) {
	return t.next.Query(ctx, q)
}

// Metrics exposes ristretto's counters. Nil unless metrics were enabled.
func (t *Table) Metrics() *ristretto.Metrics {
	return t.cache.Metrics
}

// Close releases the cache and closes the wrapped table.
func (t *Table) Close() error {
	t.cache.Close()
	return t.next.Close()
}
