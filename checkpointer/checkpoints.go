// Package checkpointer stores checkpoints and pending writes in a table.Table
// and exposes them to a graph engine through flowcontract.Checkpointer.
package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/serde"
	"github.com/futurxlab/checkpointstore/state"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

// Attribute names of a checkpoint record.
const (
	attrCheckpoint   = "checkpoint"
	attrType         = "type"
	attrCheckpointID = "checkpoint_id"
	attrMetadata     = "metadata"
	attrParentID     = "parent_checkpoint_id"
)

// ErrConsumed is yielded when a List sequence is ranged over a second time.
var ErrConsumed = errors.New("checkpoint: list sequence already consumed")

// Record is one decoded checkpoint record.
type Record struct {
	Ref        keys.CheckpointRef
	ParentID   string
	Checkpoint *state.Checkpoint
	Metadata   state.Metadata
}

// CheckpointRepository stores checkpoint records, one per checkpoint id.
type CheckpointRepository struct {
	table table.Table
	serde serde.Serializer
}

// NewCheckpointRepository returns a repository writing to tbl with s.
func NewCheckpointRepository(tbl table.Table, s serde.Serializer) *CheckpointRepository {
	return &CheckpointRepository{table: tbl, serde: s}
}

// Put stores checkpoint under ref, overwriting any record with the same id.
// Nothing is read first.
func (r *CheckpointRepository) Put(ctx context.Context, ref keys.CheckpointRef, parentID string, checkpoint *state.Checkpoint, metadata state.Metadata) (keys.CheckpointRef, error) {
	typ, data, err := r.serde.DumpsTyped(checkpoint)
	if err != nil {
		return keys.CheckpointRef{}, xerror.Wrap(fmt.Errorf("failed to serialize checkpoint %s: %w", ref.CheckpointID, err))
	}

	meta, err := r.serde.Dumps(metadata)
	if err != nil {
		return keys.CheckpointRef{}, xerror.Wrap(fmt.Errorf("failed to serialize metadata of checkpoint %s: %w", ref.CheckpointID, err))
	}

	item := table.Item{
		attrCheckpoint:   data,
		attrType:         []byte(typ),
		attrCheckpointID: []byte(ref.CheckpointID),
		attrMetadata:     meta,
	}
	if parentID != "" {
		item[attrParentID] = []byte(parentID)
	}

	key := keys.CheckpointKey(ref.ThreadID, ref.CheckpointNS, ref.CheckpointID)
	if err := r.table.Put(ctx, key, item); err != nil {
		return keys.CheckpointRef{}, xerror.Wrap(err)
	}

	return ref, nil
}

// Get returns the checkpoint with checkpointID, or the latest one in the
// namespace when checkpointID is empty. It returns flowcontract.ErrNotFound
// when there is none, including a record that lost its payload.
func (r *CheckpointRepository) Get(ctx context.Context, threadID, checkpointNS, checkpointID string) (*Record, error) {
	var key keys.CompositeKey
	if checkpointID != "" {
		key = keys.CheckpointKey(threadID, checkpointNS, checkpointID)
	} else {
		latest, err := r.Latest(ctx, threadID, checkpointNS)
		if err != nil {
			return nil, err
		}
		key = latest
	}

	ref, err := keys.ParseCheckpointKey(key)
	if err != nil {
		return nil, err
	}

	item, err := r.table.Get(ctx, key)
	if err != nil {
		return nil, xerror.Wrap(err)
	}
	if !item.Has(attrCheckpoint) {
		return nil, xerror.Wrap(flowcontract.ErrNotFound)
	}

	return r.decode(ref, item)
}

// Latest returns the key of the checkpoint with the greatest id in the
// namespace.
func (r *CheckpointRepository) Latest(ctx context.Context, threadID, checkpointNS string) (keys.CompositeKey, error) {
	prefix := keys.CheckpointPrefix(threadID, checkpointNS)

	found, err := r.table.Query(ctx, table.Query{
		PK:         prefix.PK,
		Prefix:     prefix.SK,
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return keys.CompositeKey{}, xerror.Wrap(err)
	}
	if len(found) == 0 {
		return keys.CompositeKey{}, xerror.Wrap(flowcontract.ErrNotFound)
	}
	return found[0], nil
}

// List yields the namespace's checkpoints newest first. A non-nil before keeps
// only ids sorting strictly before *before, so an empty *before keeps nothing;
// limit <= 0 means all.
// Records missing their payload or metadata are skipped. Records are fetched
// one at a time as the caller ranges, and the sequence can be ranged once.
func (r *CheckpointRepository) List(ctx context.Context, threadID, checkpointNS string, before *string, limit int) iter.Seq2[*Record, error] {
	var used atomic.Bool

	return func(yield func(*Record, error) bool) {
		if used.Swap(true) {
			yield(nil, xerror.Wrap(ErrConsumed))
			return
		}

		prefix := keys.CheckpointPrefix(threadID, checkpointNS)
		q := table.Query{
			PK:         prefix.PK,
			Prefix:     prefix.SK,
			Descending: true,
			Limit:      limit,
		}
		if before != nil {
			// an empty id bounds at the bare prefix, which nothing sorts before
			q.Before = keys.CheckpointKey(threadID, checkpointNS, *before).SK
		}

		found, err := r.table.Query(ctx, q)
		if err != nil {
			yield(nil, xerror.Wrap(err))
			return
		}

		for _, key := range found {
			ref, err := keys.ParseCheckpointKey(key)
			if err != nil {
				yield(nil, err)
				return
			}

			item, err := r.table.Get(ctx, key)
			if errors.Is(err, flowcontract.ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, xerror.Wrap(err))
				return
			}
			if !item.Has(attrCheckpoint) || !item.Has(attrMetadata) {
				continue
			}

			record, err := r.decode(ref, item)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

func (r *CheckpointRepository) decode(ref keys.CheckpointRef, item table.Item) (*Record, error) {
	checkpoint := &state.Checkpoint{}
	if err := r.serde.LoadsTyped(item.String(attrType), item[attrCheckpoint], checkpoint); err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to deserialize checkpoint %s: %w", ref.CheckpointID, err))
	}

	var metadata state.Metadata
	if item.Has(attrMetadata) {
		if err := r.serde.Loads(item[attrMetadata], &metadata); err != nil {
			return nil, xerror.Wrap(fmt.Errorf("failed to deserialize metadata of checkpoint %s: %w", ref.CheckpointID, err))
		}
	}

	return &Record{
		Ref:        ref,
		ParentID:   item.String(attrParentID),
		Checkpoint: checkpoint,
		Metadata:   metadata,
	}, nil
}
