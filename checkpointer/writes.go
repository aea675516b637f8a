package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/serde"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

// Attribute names of a pending write record.
const (
	attrChannel = "channel"
	attrValue   = "value"
)

// WriteRepository stores the pending writes of checkpoints, one record per write.
type WriteRepository struct {
	table table.Table
	serde serde.Serializer
}

// NewWriteRepository returns a repository writing to tbl with s.
func NewWriteRepository(tbl table.Table, s serde.Serializer) *WriteRepository {
	return &WriteRepository{table: tbl, serde: s}
}

// PutWrites stores writes as separate records numbered 0, 1, 2... in input
// order. On error the writes already stored stay stored.
func (r *WriteRepository) PutWrites(ctx context.Context, ref keys.CheckpointRef, taskID string, writes []flowcontract.Write) error {
	for idx, write := range writes {
		typ, data, err := r.serde.DumpsTyped(write.Value)
		if err != nil {
			return xerror.Wrap(fmt.Errorf("failed to serialize write %d of task %s: %w", idx, taskID, err))
		}

		key := keys.WritesKey(ref.ThreadID, ref.CheckpointNS, ref.CheckpointID, taskID, idx)
		item := table.Item{
			attrChannel: []byte(write.Channel),
			attrType:    []byte(typ),
			attrValue:   data,
		}
		if err := r.table.Put(ctx, key, item); err != nil {
			return xerror.Wrap(fmt.Errorf("failed to store write %d of task %s: %w", idx, taskID, err))
		}
	}
	return nil
}

type storedWrite struct {
	ref  keys.WriteRef
	item table.Item
}

// GetWrites returns every pending write of the checkpoint ref points at,
// ordered by idx. Writes of different tasks sharing an idx keep their
// storage order. A checkpoint without writes yields an empty slice.
func (r *WriteRepository) GetWrites(ctx context.Context, ref keys.CheckpointRef) ([]flowcontract.PendingWrite, error) {
	prefix := keys.WritesPrefix(ref.ThreadID, ref.CheckpointNS, ref.CheckpointID)

	found, err := r.table.Query(ctx, table.Query{PK: prefix.PK, Prefix: prefix.SK})
	if err != nil {
		return nil, xerror.Wrap(err)
	}

	stored := make([]storedWrite, 0, len(found))
	for _, key := range found {
		writeRef, err := keys.ParseWritesKey(key)
		if err != nil {
			return nil, err
		}

		item, err := r.table.Get(ctx, key)
		if errors.Is(err, flowcontract.ErrNotFound) {
			// listed by the scan but gone by the time it was fetched
			continue
		}
		if err != nil {
			return nil, xerror.Wrap(err)
		}

		stored = append(stored, storedWrite{ref: writeRef, item: item})
	}

	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].ref.Idx < stored[j].ref.Idx
	})

	writes := make([]flowcontract.PendingWrite, 0, len(stored))
	for _, w := range stored {
		var value any
		if err := r.serde.LoadsTyped(w.item.String(attrType), w.item[attrValue], &value); err != nil {
			return nil, xerror.Wrap(fmt.Errorf("failed to deserialize write %d of task %s: %w", w.ref.Idx, w.ref.TaskID, err))
		}

		writes = append(writes, flowcontract.PendingWrite{
			TaskID:  w.ref.TaskID,
			Channel: w.item.String(attrChannel),
			Value:   value,
		})
	}

	return writes, nil
}
