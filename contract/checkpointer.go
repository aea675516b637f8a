package flowcontract

import (
	"context"
	"iter"

	"github.com/futurxlab/checkpointstore/state"
)

// Checkpointer is what a graph engine calls to persist and restore execution
// state. Checkpoints and pending writes are stored as independent records, so
// no call here is atomic with any other.
type Checkpointer interface {
	// Put stores checkpoint under cfg's thread and namespace. cfg.CheckpointID,
	// when set, is recorded as the parent. The returned config points at the
	// stored checkpoint.
	Put(ctx context.Context, cfg Config, checkpoint *state.Checkpoint, metadata state.Metadata) (Config, error)

	// PutWrites stores the writes one task produced while computing the step
	// after cfg.CheckpointID. It is not atomic: on error, earlier writes stay.
	PutWrites(ctx context.Context, cfg Config, writes []Write, taskID string) (Config, error)

	// GetTuple returns the checkpoint cfg points at, or the latest one when
	// cfg.CheckpointID is empty, together with its pending writes. It returns
	// (nil, nil) when nothing matches.
	GetTuple(ctx context.Context, cfg Config) (*Tuple, error)

	// List yields checkpoints newest first. The sequence is single-use.
	List(ctx context.Context, cfg Config, opts ListOptions) iter.Seq2[*Tuple, error]
}
