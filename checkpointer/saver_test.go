package checkpointer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/serde"
	"github.com/futurxlab/checkpointstore/state"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/table/memory"
	"github.com/futurxlab/checkpointstore/table/sqlite"
)

type backend struct {
	name     string
	newTable func(t *testing.T) table.Table
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) table.Table {
			return memory.New()
		}},
		{"sqlite", func(t *testing.T) table.Table {
			tbl, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "store.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = tbl.Close() })
			return tbl
		}},
	}
}

// forEachBackend runs fn against a fresh table of every local backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, tbl table.Table)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.newTable(t))
		})
	}
}

func checkpoint(id string) *state.Checkpoint {
	return &state.Checkpoint{
		V:  1,
		ID: id,
		TS: "2024-05-01T10:00:00Z",
		ChannelValues: map[string]any{
			"messages": "hello " + id,
		},
		ChannelVersions: map[string]string{"messages": "1"},
	}
}

func collect(t *testing.T, seq func(func(*flowcontract.Tuple, error) bool)) []string {
	t.Helper()
	var ids []string
	for tuple, err := range seq {
		require.NoError(t, err)
		ids = append(ids, tuple.Config.CheckpointID)
	}
	return ids
}

func TestSaver_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)

		cp := checkpoint("1")
		meta := state.Metadata{Source: "loop", Step: 3, Writes: map[string]any{"node": "done"}}

		cfg, err := saver.Put(ctx, flowcontract.Config{ThreadID: "t1"}, cp, meta)
		require.NoError(t, err)
		assert.Equal(t, flowcontract.Config{ThreadID: "t1", CheckpointID: "1"}, cfg)

		tuple, err := saver.GetTuple(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, tuple)

		assert.Equal(t, cfg, tuple.Config)
		assert.Equal(t, cp, tuple.Checkpoint)
		assert.Equal(t, meta, tuple.Metadata)
		assert.Nil(t, tuple.ParentConfig)
		assert.NotNil(t, tuple.PendingWrites)
		assert.Empty(t, tuple.PendingWrites)
	})
}

func TestSaver_RoundTripNormalizesUntypedValues(t *testing.T) {
	tests := []struct {
		codec     string
		wantCount any
	}{
		{"msgpack", int64(3)},
		{"msgpack+zstd", int64(3)},
		{"json", float64(3)},
		{"json+gzip", float64(3)},
	}

	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, tbl table.Table) {
				ctx := context.Background()
				s, err := serde.New(serde.DefaultRegistry(), tt.codec)
				require.NoError(t, err)
				saver := NewSaver(tbl, WithSerializer(s))

				cp := &state.Checkpoint{
					V:  1,
					ID: "1",
					ChannelValues: map[string]any{
						"count":    3,
						"ratio":    0.5,
						"messages": []string{"hi"},
						"nested":   map[string]any{"ok": true},
					},
				}
				meta := state.Metadata{Step: 2, Writes: map[string]any{"n": 1}}

				cfg, err := saver.Put(ctx, flowcontract.Config{ThreadID: "t1"}, cp, meta)
				require.NoError(t, err)

				tuple, err := saver.GetTuple(ctx, cfg)
				require.NoError(t, err)
				require.NotNil(t, tuple)

				assert.Equal(t, map[string]any{
					"count":    tt.wantCount,
					"ratio":    0.5,
					"messages": []any{"hi"},
					"nested":   map[string]any{"ok": true},
				}, tuple.Checkpoint.ChannelValues)
				assert.Equal(t, 1, tuple.Checkpoint.V)
				assert.Equal(t, 2, tuple.Metadata.Step)
				// metadata is always JSON
				assert.Equal(t, map[string]any{"n": float64(1)}, tuple.Metadata.Writes)
			})
		})
	}
}

func TestSaver_ParentConfig(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)

		first, err := saver.Put(ctx, flowcontract.Config{ThreadID: "t1", CheckpointNS: "ns"}, checkpoint("1"), state.Metadata{})
		require.NoError(t, err)
		second, err := saver.Put(ctx, first, checkpoint("2"), state.Metadata{Step: 1})
		require.NoError(t, err)

		tuple, err := saver.GetTuple(ctx, second)
		require.NoError(t, err)
		require.NotNil(t, tuple.ParentConfig)
		assert.Equal(t, first, *tuple.ParentConfig)
	})
}

func TestSaver_LatestResolution(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		for _, id := range []string{"b", "c", "a"} {
			_, err := saver.Put(ctx, cfg, checkpoint(id), state.Metadata{})
			require.NoError(t, err)
		}

		tuple, err := saver.GetTuple(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, "c", tuple.Config.CheckpointID)
		assert.Equal(t, "c", tuple.Checkpoint.ID)
	})
}

func TestSaver_GetTupleMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)

		tuple, err := saver.GetTuple(ctx, flowcontract.Config{ThreadID: "none"})
		assert.NoError(t, err)
		assert.Nil(t, tuple)

		tuple, err = saver.GetTuple(ctx, flowcontract.Config{ThreadID: "none", CheckpointID: "1"})
		assert.NoError(t, err)
		assert.Nil(t, tuple)
	})
}

func TestSaver_ListOrderingAndPagination(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		for _, id := range []string{"3", "1", "5", "2", "4"} {
			_, err := saver.Put(ctx, cfg, checkpoint(id), state.Metadata{})
			require.NoError(t, err)
		}

		assert.Equal(t, []string{"5", "4", "3", "2", "1"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{})))
		assert.Equal(t, []string{"5", "4", "3"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{Limit: 3})))

		before := &flowcontract.Config{ThreadID: "t1", CheckpointID: "4"}
		assert.Equal(t, []string{"3", "2", "1"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{Before: before})))
		assert.Equal(t, []string{"3", "2"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{Before: before, Limit: 2})))
	})
}

func TestSaver_ListBeforeEmptyIDMatchesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		for _, id := range []string{"1", "2"} {
			_, err := saver.Put(ctx, cfg, checkpoint(id), state.Metadata{})
			require.NoError(t, err)
		}

		before := &flowcontract.Config{ThreadID: "t1"}
		assert.Empty(t, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{Before: before})))
		assert.Equal(t, []string{"2", "1"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{})))
	})
}

func TestSaver_ListStopsEarly(t *testing.T) {
	ctx := context.Background()
	saver := NewSaver(memory.New())
	cfg := flowcontract.Config{ThreadID: "t1"}

	for _, id := range []string{"1", "2", "3"} {
		_, err := saver.Put(ctx, cfg, checkpoint(id), state.Metadata{})
		require.NoError(t, err)
	}

	var seen []string
	for tuple, err := range saver.List(ctx, cfg, flowcontract.ListOptions{}) {
		require.NoError(t, err)
		seen = append(seen, tuple.Config.CheckpointID)
		break
	}
	assert.Equal(t, []string{"3"}, seen)
}

func TestSaver_ListIsSingleUse(t *testing.T) {
	ctx := context.Background()
	saver := NewSaver(memory.New())
	cfg := flowcontract.Config{ThreadID: "t1"}

	_, err := saver.Put(ctx, cfg, checkpoint("1"), state.Metadata{})
	require.NoError(t, err)

	seq := saver.List(ctx, cfg, flowcontract.ListOptions{})
	assert.Equal(t, []string{"1"}, collect(t, seq))

	for tuple, err := range seq {
		assert.Nil(t, tuple)
		assert.ErrorIs(t, err, ErrConsumed)
	}
}

func TestSaver_WriteOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)

		cfg, err := saver.Put(ctx, flowcontract.Config{ThreadID: "t1"}, checkpoint("1"), state.Metadata{})
		require.NoError(t, err)

		_, err = saver.PutWrites(ctx, cfg, []flowcontract.Write{
			{Channel: "a", Value: "t2-0"},
			{Channel: "b", Value: "t2-1"},
			{Channel: "c", Value: "t2-2"},
		}, "t2")
		require.NoError(t, err)

		echoed, err := saver.PutWrites(ctx, cfg, []flowcontract.Write{
			{Channel: "a", Value: "t1-0"},
		}, "t1")
		require.NoError(t, err)
		assert.Equal(t, cfg, echoed)

		tuple, err := saver.GetTuple(ctx, cfg)
		require.NoError(t, err)

		assert.Equal(t, []flowcontract.PendingWrite{
			{TaskID: "t1", Channel: "a", Value: "t1-0"},
			{TaskID: "t2", Channel: "a", Value: "t2-0"},
			{TaskID: "t2", Channel: "b", Value: "t2-1"},
			{TaskID: "t2", Channel: "c", Value: "t2-2"},
		}, tuple.PendingWrites)
	})
}

func TestSaver_WritesFollowResolvedCheckpoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		base := flowcontract.Config{ThreadID: "t1"}

		first, err := saver.Put(ctx, base, checkpoint("1"), state.Metadata{})
		require.NoError(t, err)
		second, err := saver.Put(ctx, first, checkpoint("2"), state.Metadata{})
		require.NoError(t, err)

		_, err = saver.PutWrites(ctx, first, []flowcontract.Write{{Channel: "x", Value: "old"}}, "task")
		require.NoError(t, err)
		_, err = saver.PutWrites(ctx, second, []flowcontract.Write{{Channel: "x", Value: "new"}}, "task")
		require.NoError(t, err)

		latest, err := saver.GetTuple(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, []flowcontract.PendingWrite{{TaskID: "task", Channel: "x", Value: "new"}}, latest.PendingWrites)

		older, err := saver.GetTuple(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, []flowcontract.PendingWrite{{TaskID: "task", Channel: "x", Value: "old"}}, older.PendingWrites)
	})
}

func TestSaver_MissingDataTolerance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		_, err := saver.Put(ctx, cfg, checkpoint("1"), state.Metadata{})
		require.NoError(t, err)

		// payload without metadata: readable directly, skipped by List
		typ, data, err := serde.Default().DumpsTyped(checkpoint("2"))
		require.NoError(t, err)
		require.NoError(t, tbl.Put(ctx, keys.CheckpointKey("t1", "", "2"), table.Item{
			attrCheckpoint: data,
			attrType:       []byte(typ),
		}))

		// metadata without payload: invisible everywhere
		require.NoError(t, tbl.Put(ctx, keys.CheckpointKey("t1", "", "3"), table.Item{
			attrMetadata: []byte(`{"step":1}`),
		}))

		assert.Equal(t, []string{"1"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{})))

		tuple, err := saver.GetTuple(ctx, flowcontract.Config{ThreadID: "t1", CheckpointID: "3"})
		assert.NoError(t, err)
		assert.Nil(t, tuple)

		// latest resolves to "3", whose payload is gone
		tuple, err = saver.GetTuple(ctx, cfg)
		assert.NoError(t, err)
		assert.Nil(t, tuple)

		tuple, err = saver.GetTuple(ctx, flowcontract.Config{ThreadID: "t1", CheckpointID: "2"})
		require.NoError(t, err)
		require.NotNil(t, tuple)
		assert.Equal(t, state.Metadata{}, tuple.Metadata)
	})
}

func TestSaver_NamespaceIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		root := flowcontract.Config{ThreadID: "t1"}
		child := flowcontract.Config{ThreadID: "t1", CheckpointNS: "child"}
		other := flowcontract.Config{ThreadID: "t2"}

		for _, id := range []string{"1", "2"} {
			_, err := saver.Put(ctx, root, checkpoint(id), state.Metadata{})
			require.NoError(t, err)
		}
		_, err := saver.Put(ctx, child, checkpoint("9"), state.Metadata{})
		require.NoError(t, err)
		_, err = saver.Put(ctx, other, checkpoint("8"), state.Metadata{})
		require.NoError(t, err)

		assert.Equal(t, []string{"2", "1"}, collect(t, saver.List(ctx, root, flowcontract.ListOptions{})))
		assert.Equal(t, []string{"9"}, collect(t, saver.List(ctx, child, flowcontract.ListOptions{})))
		assert.Equal(t, []string{"8"}, collect(t, saver.List(ctx, other, flowcontract.ListOptions{})))

		tuple, err := saver.GetTuple(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, "2", tuple.Config.CheckpointID)

		tuple, err = saver.GetTuple(ctx, child)
		require.NoError(t, err)
		assert.Equal(t, "9", tuple.Config.CheckpointID)
		assert.Equal(t, "child", tuple.Config.CheckpointNS)
	})
}

func TestSaver_IdempotentPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		_, err := saver.Put(ctx, cfg, checkpoint("1"), state.Metadata{Step: 1})
		require.NoError(t, err)
		_, err = saver.Put(ctx, cfg, checkpoint("1"), state.Metadata{Step: 2})
		require.NoError(t, err)

		assert.Equal(t, []string{"1"}, collect(t, saver.List(ctx, cfg, flowcontract.ListOptions{})))

		tuple, err := saver.GetTuple(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, 2, tuple.Metadata.Step)
	})
}

func TestSaver_InvalidKeyPropagates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		saver := NewSaver(tbl)
		cfg := flowcontract.Config{ThreadID: "t1"}

		_, err := saver.Put(ctx, cfg, checkpoint("1"), state.Metadata{})
		require.NoError(t, err)

		// three sort key fields where two are expected
		require.NoError(t, tbl.Put(ctx, keys.CompositeKey{PK: "checkpoint#t1", SK: "#2#x"}, table.Item{
			attrCheckpoint: []byte("x"),
			attrMetadata:   []byte("{}"),
		}))

		_, err = saver.GetTuple(ctx, cfg)
		assert.ErrorIs(t, err, flowcontract.ErrInvalidKey)

		var listErr error
		for _, err := range saver.List(ctx, cfg, flowcontract.ListOptions{}) {
			if err != nil {
				listErr = err
			}
		}
		assert.ErrorIs(t, listErr, flowcontract.ErrInvalidKey)
	})
}

func TestSaver_MixedCodecs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, tbl table.Table) {
		ctx := context.Background()
		cfg := flowcontract.Config{ThreadID: "t1"}

		var cpIDs []string
		for i, name := range []string{"json", "msgpack", "msgpack+zstd", "json+gzip"} {
			s, err := serde.New(serde.DefaultRegistry(), name)
			require.NoError(t, err)

			saver := NewSaver(tbl, WithSerializer(s))
			id := string(rune('a' + i))
			written, err := saver.Put(ctx, cfg, checkpoint(id), state.Metadata{Step: i})
			require.NoError(t, err)
			_, err = saver.PutWrites(ctx, written, []flowcontract.Write{{Channel: "c", Value: name}}, "task")
			require.NoError(t, err)
			cpIDs = append(cpIDs, id)
		}

		reader := NewSaver(tbl)
		for i, id := range cpIDs {
			tuple, err := reader.GetTuple(ctx, flowcontract.Config{ThreadID: "t1", CheckpointID: id})
			require.NoError(t, err)
			assert.Equal(t, checkpoint(id), tuple.Checkpoint)
			assert.Equal(t, i, tuple.Metadata.Step)
			require.Len(t, tuple.PendingWrites, 1)
		}

		tuple, err := reader.GetTuple(ctx, flowcontract.Config{ThreadID: "t1", CheckpointID: "c"})
		require.NoError(t, err)
		assert.Equal(t, "msgpack+zstd", tuple.PendingWrites[0].Value)
	})
}

func TestSaver_UnknownTypeTag(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New()
	saver := NewSaver(tbl)

	require.NoError(t, tbl.Put(ctx, keys.CheckpointKey("t1", "", "1"), table.Item{
		attrCheckpoint: []byte("payload"),
		attrType:       []byte("pickle"),
		attrMetadata:   []byte("{}"),
	}))

	_, err := saver.GetTuple(ctx, flowcontract.Config{ThreadID: "t1"})
	assert.ErrorIs(t, err, serde.ErrUnknownType)
}

func TestSaver_InvalidConfig(t *testing.T) {
	ctx := context.Background()
	saver := NewSaver(memory.New())

	_, err := saver.Put(ctx, flowcontract.Config{}, checkpoint("1"), state.Metadata{})
	assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)

	_, err = saver.Put(ctx, flowcontract.Config{ThreadID: "t1"}, nil, state.Metadata{})
	assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)

	_, err = saver.Put(ctx, flowcontract.Config{ThreadID: "t1"}, &state.Checkpoint{}, state.Metadata{})
	assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)

	_, err = saver.PutWrites(ctx, flowcontract.Config{ThreadID: "t1"}, nil, "task")
	assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)

	_, err = saver.GetTuple(ctx, flowcontract.Config{})
	assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)

	for _, err := range saver.List(ctx, flowcontract.Config{}, flowcontract.ListOptions{}) {
		assert.ErrorIs(t, err, flowcontract.ErrInvalidConfig)
	}
}

func TestSaver_GeneratedIDsResolveInCreationOrder(t *testing.T) {
	ctx := context.Background()
	saver := NewSaver(memory.New())
	cfg := flowcontract.Config{ThreadID: "t1"}

	cp := state.NewCheckpoint(map[string]any{"step": "0"})
	var last string
	for i := 0; i < 5; i++ {
		written, err := saver.Put(ctx, cfg, cp, state.Metadata{Step: i})
		require.NoError(t, err)
		last = written.CheckpointID
		cp = cp.Next(nil)
	}

	tuple, err := saver.GetTuple(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, last, tuple.Config.CheckpointID)
	assert.Equal(t, 4, tuple.Metadata.Step)
}
