// Package tabletest checks that a table.Table honors the ordering, range and
// overwrite rules the repositories depend on.
package tabletest

import (
	"context"
	"testing"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh table from newTable for every subtest.
func Run(t *testing.T, newTable func(t *testing.T) table.Table) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		tbl := newTable(t)
		_, err := tbl.Get(ctx, keys.CompositeKey{PK: "checkpoint#t", SK: "#1"})
		assert.ErrorIs(t, err, flowcontract.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		tbl := newTable(t)
		key := keys.CompositeKey{PK: "checkpoint#t", SK: "#1"}
		item := table.Item{"checkpoint": []byte{0x00, 0x01, 0xfe}, "type": []byte("msgpack")}

		require.NoError(t, tbl.Put(ctx, key, item))

		got, err := tbl.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, item, got)
	})

	t.Run("put replaces every attribute", func(t *testing.T) {
		tbl := newTable(t)
		key := keys.CompositeKey{PK: "checkpoint#t", SK: "#1"}

		require.NoError(t, tbl.Put(ctx, key, table.Item{"a": []byte("1"), "b": []byte("2")}))
		require.NoError(t, tbl.Put(ctx, key, table.Item{"a": []byte("3")}))

		got, err := tbl.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, table.Item{"a": []byte("3")}, got)

		found, err := tbl.Query(ctx, table.Query{PK: key.PK, Prefix: "#"})
		require.NoError(t, err)
		assert.Equal(t, []keys.CompositeKey{key}, found)
	})

	t.Run("query prefix and order", func(t *testing.T) {
		tbl := newTable(t)
		pk := "checkpoint#t"
		for _, sk := range []string{"#3", "sub#1", "#1", "#5", "#2", "#4", "other#9"} {
			require.NoError(t, tbl.Put(ctx, keys.CompositeKey{PK: pk, SK: sk}, table.Item{"v": []byte(sk)}))
		}
		require.NoError(t, tbl.Put(ctx, keys.CompositeKey{PK: "checkpoint#u", SK: "#9"}, table.Item{"v": []byte("x")}))

		asc, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "#"})
		require.NoError(t, err)
		assert.Equal(t, []string{"#1", "#2", "#3", "#4", "#5"}, sortKeys(asc))

		desc, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "#", Descending: true, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"#5", "#4", "#3"}, sortKeys(desc))

		before, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "#", Before: "#4", Descending: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"#3", "#2", "#1"}, sortKeys(before))

		none, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "#", Before: "#", Descending: true})
		require.NoError(t, err)
		assert.Empty(t, none)

		latest, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "#", Descending: true, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"#5"}, sortKeys(latest))

		sub, err := tbl.Query(ctx, table.Query{PK: pk, Prefix: "sub#"})
		require.NoError(t, err)
		assert.Equal(t, []string{"sub#1"}, sortKeys(sub))
		for _, k := range sub {
			assert.Equal(t, pk, k.PK)
		}
	})

	t.Run("query empty partition", func(t *testing.T) {
		tbl := newTable(t)
		found, err := tbl.Query(ctx, table.Query{PK: "writes#none", Prefix: "#1#"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func sortKeys(found []keys.CompositeKey) []string {
	out := make([]string, 0, len(found))
	for _, k := range found {
		out = append(out, k.SK)
	}
	return out
}
