package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"iter"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/logger"
	"github.com/futurxlab/checkpointstore/serde"
	"github.com/futurxlab/checkpointstore/state"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

var _ flowcontract.Checkpointer = (*Saver)(nil)

// Saver implements flowcontract.Checkpointer over one table shared by a
// CheckpointRepository and a WriteRepository.
type Saver struct {
	checkpoints *CheckpointRepository
	writes      *WriteRepository
	serde       serde.Serializer
	logger      logger.ILogger
}

// Option configures a Saver.
type Option func(*Saver)

// WithSerializer sets the serializer new records are written with. Defaults to serde.Default.
func WithSerializer(s serde.Serializer) Option {
	return func(saver *Saver) {
		saver.serde = s
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l logger.ILogger) Option {
	return func(saver *Saver) {
		saver.logger = l
	}
}

// NewSaver returns a Saver keeping checkpoints and pending writes in tbl.
func NewSaver(tbl table.Table, opts ...Option) *Saver {
	saver := &Saver{
		serde:  serde.Default(),
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(saver)
	}

	saver.checkpoints = NewCheckpointRepository(tbl, saver.serde)
	saver.writes = NewWriteRepository(tbl, saver.serde)
	return saver
}

func invalidConfig(format string, args ...any) error {
	return xerror.Wrap(fmt.Errorf("%w: "+format, append([]any{flowcontract.ErrInvalidConfig}, args...)...))
}

// Put stores checkpoint with cfg.CheckpointID as its parent and returns the
// config addressing it.
func (s *Saver) Put(ctx context.Context, cfg flowcontract.Config, checkpoint *state.Checkpoint, metadata state.Metadata) (flowcontract.Config, error) {
	if cfg.ThreadID == "" {
		return flowcontract.Config{}, invalidConfig("thread id is required")
	}
	if checkpoint == nil {
		return flowcontract.Config{}, invalidConfig("checkpoint is nil")
	}
	if checkpoint.ID == "" {
		return flowcontract.Config{}, invalidConfig("checkpoint id is required")
	}

	ref := keys.CheckpointRef{
		ThreadID:     cfg.ThreadID,
		CheckpointNS: cfg.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}
	if _, err := s.checkpoints.Put(ctx, ref, cfg.CheckpointID, checkpoint, metadata); err != nil {
		return flowcontract.Config{}, err
	}

	s.logger.Debugf(ctx, "stored checkpoint %s for thread %s (ns %q, parent %q)", ref.CheckpointID, ref.ThreadID, ref.CheckpointNS, cfg.CheckpointID)

	return flowcontract.Config{
		ThreadID:     ref.ThreadID,
		CheckpointNS: ref.CheckpointNS,
		CheckpointID: ref.CheckpointID,
	}, nil
}

// PutWrites stores writes of taskID against cfg.CheckpointID and echoes cfg.
func (s *Saver) PutWrites(ctx context.Context, cfg flowcontract.Config, writes []flowcontract.Write, taskID string) (flowcontract.Config, error) {
	if cfg.ThreadID == "" {
		return flowcontract.Config{}, invalidConfig("thread id is required")
	}
	if cfg.CheckpointID == "" {
		return flowcontract.Config{}, invalidConfig("checkpoint id is required to store writes")
	}

	ref := keys.CheckpointRef{
		ThreadID:     cfg.ThreadID,
		CheckpointNS: cfg.CheckpointNS,
		CheckpointID: cfg.CheckpointID,
	}
	if err := s.writes.PutWrites(ctx, ref, taskID, writes); err != nil {
		return flowcontract.Config{}, err
	}

	s.logger.Debugf(ctx, "stored %d writes of task %s for checkpoint %s", len(writes), taskID, cfg.CheckpointID)

	return cfg, nil
}

// GetTuple resolves cfg to one checkpoint, the latest when cfg.CheckpointID is
// empty, and loads its pending writes. It returns (nil, nil) when nothing matches.
func (s *Saver) GetTuple(ctx context.Context, cfg flowcontract.Config) (*flowcontract.Tuple, error) {
	if cfg.ThreadID == "" {
		return nil, invalidConfig("thread id is required")
	}

	record, err := s.checkpoints.Get(ctx, cfg.ThreadID, cfg.CheckpointNS, cfg.CheckpointID)
	if errors.Is(err, flowcontract.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// writes belong to the resolved id, not whatever is latest by now
	pending, err := s.writes.GetWrites(ctx, record.Ref)
	if err != nil {
		return nil, err
	}

	tuple := toTuple(record)
	tuple.PendingWrites = pending
	return tuple, nil
}

// List yields tuples without pending writes; GetTuple a listed config to
// load them.
func (s *Saver) List(ctx context.Context, cfg flowcontract.Config, opts flowcontract.ListOptions) iter.Seq2[*flowcontract.Tuple, error] {
	if cfg.ThreadID == "" {
		return func(yield func(*flowcontract.Tuple, error) bool) {
			yield(nil, invalidConfig("thread id is required"))
		}
	}

	var before *string
	if opts.Before != nil {
		before = &opts.Before.CheckpointID
	}

	records := s.checkpoints.List(ctx, cfg.ThreadID, cfg.CheckpointNS, before, opts.Limit)

	return func(yield func(*flowcontract.Tuple, error) bool) {
		for record, err := range records {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(toTuple(record), nil) {
				return
			}
		}
	}
}

func toTuple(record *Record) *flowcontract.Tuple {
	tuple := &flowcontract.Tuple{
		Config: flowcontract.Config{
			ThreadID:     record.Ref.ThreadID,
			CheckpointNS: record.Ref.CheckpointNS,
			CheckpointID: record.Ref.CheckpointID,
		},
		Checkpoint: record.Checkpoint,
		Metadata:   record.Metadata,
	}
	if record.ParentID != "" {
		tuple.ParentConfig = &flowcontract.Config{
			ThreadID:     record.Ref.ThreadID,
			CheckpointNS: record.Ref.CheckpointNS,
			CheckpointID: record.ParentID,
		}
	}
	return tuple
}
