package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

// partition keeps sort keys ordered so queries are a binary search plus a
// slice walk.
type partition struct {
	sortKeys []string
	items    map[string]table.Item
}

// Table keeps every item in process memory. Items are copied on the way in
// and out so callers cannot mutate stored state.
type Table struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	closed     bool
}

// New returns an empty in-process table.
func New() *Table {
	return &Table{
		partitions: make(map[string]*partition),
	}
}

func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, xerror.New("memory table closed")
	}

	if p, exists := t.partitions[key.PK]; exists {
		if item, ok := p.items[key.SK]; ok {
			return item.Clone(), nil
		}
	}

	return nil, xerror.Wrap(flowcontract.ErrNotFound)
}

func (t *Table) Put(ctx context.Context, key keys.CompositeKey, item table.Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return xerror.New("memory table closed")
	}

	p, exists := t.partitions[key.PK]
	if !exists {
		p = &partition{items: make(map[string]table.Item)}
		t.partitions[key.PK] = p
	}

	if _, ok := p.items[key.SK]; !ok {
		i := sort.SearchStrings(p.sortKeys, key.SK)
		p.sortKeys = append(p.sortKeys, "")
		copy(p.sortKeys[i+1:], p.sortKeys[i:])
		p.sortKeys[i] = key.SK
	}
	p.items[key.SK] = item.Clone()

	return nil
}

// Query scans one partition's sorted keys.
func (t *Table) Query(ctx context.Context, q table.Query) ([]keys.CompositeKey, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, xerror.New("memory table closed")
	}

	p, exists := t.partitions[q.PK]
	if !exists {
		return []keys.CompositeKey{}, nil
	}

	from, to := q.Range()
	start := sort.SearchStrings(p.sortKeys, from)
	end := len(p.sortKeys)
	if to != "" {
		end = sort.SearchStrings(p.sortKeys, to)
	}
	if end < start {
		end = start
	}

	matched := make([]keys.CompositeKey, 0, end-start)
	for _, sk := range p.sortKeys[start:end] {
		if strings.HasPrefix(sk, q.Prefix) {
			matched = append(matched, keys.CompositeKey{PK: q.PK, SK: sk})
		}
	}

	if q.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	return matched, nil
}

// Close marks the table closed; later calls fail.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
