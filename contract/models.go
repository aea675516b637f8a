package flowcontract

import (
	"github.com/futurxlab/checkpointstore/state"
)

// Config addresses a checkpoint stream, and optionally one checkpoint in it.
type Config struct {
	ThreadID     string `json:"thread_id"`
	CheckpointNS string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Write is one value a task emitted to a channel.
type Write struct {
	Channel string
	Value   any
}

// PendingWrite is a stored Write together with the task that produced it.
type PendingWrite struct {
	TaskID  string
	Channel string
	Value   any
}

// Tuple is a checkpoint with its metadata, parent and pending writes.
type Tuple struct {
	Config        Config
	Checkpoint    *state.Checkpoint
	Metadata      state.Metadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
}

// ListOptions narrows Checkpointer.List.
type ListOptions struct {
	// Before keeps only checkpoints whose id sorts strictly before
	// Before.CheckpointID.
	Before *Config
	// Limit caps the number of checkpoints; zero or negative means no cap.
	Limit int
}
