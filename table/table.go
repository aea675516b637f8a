// Package table is the single two-part-key table both repositories write to.
// Implementations live in the subpackages; decorators wrap any of them.
package table

import (
	"context"

	"github.com/futurxlab/checkpointstore/keys"
)

// Item is the attribute bag stored under one composite key.
type Item map[string][]byte

// Has reports whether attr is present and non-empty.
func (i Item) Has(attr string) bool {
	return len(i[attr]) > 0
}

func (i Item) String(attr string) string {
	return string(i[attr])
}

func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Size is the number of bytes the item occupies, keys included.
func (i Item) Size() int64 {
	var n int64
	for k, v := range i {
		n += int64(len(k) + len(v))
	}
	return n
}

// Query selects keys of one partition whose sort key starts with Prefix.
type Query struct {
	PK     string
	Prefix string
	// Before, when set, is an exclusive upper bound on the sort key.
	Before string
	// Descending returns the largest sort keys first.
	Descending bool
	// Limit caps the result after ordering; zero or negative means no cap.
	Limit int
}

type Table interface {
	// Get returns flowcontract.ErrNotFound when no item is stored at key.
	Get(ctx context.Context, key keys.CompositeKey) (Item, error)
	// Put stores item at key, replacing whatever was there.
	Put(ctx context.Context, key keys.CompositeKey, item Item) error
	// Query returns matching keys ordered by sort key. Only keys are
	// projected; fetch items with Get.
	Query(ctx context.Context, q Query) ([]keys.CompositeKey, error)
	Close() error
}

// Range returns the half-open sort key interval [from, to) that q covers.
// An empty to means unbounded.
func (q Query) Range() (from, to string) {
	from = q.Prefix
	to = PrefixEnd(q.Prefix)
	if q.Before != "" && (to == "" || q.Before < to) {
		to = q.Before
	}
	return from, to
}

// PrefixEnd returns the smallest string greater than every string that starts
// with prefix, or "" when no such bound exists.
func PrefixEnd(prefix string) string {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return string(end[:i+1])
		}
	}
	return ""
}
