// Package state holds the snapshot types a graph engine hands to the
// checkpoint store. The store treats them as opaque payloads and only reads
// Checkpoint.ID.
package state

import (
	"time"

	"github.com/google/uuid"
)

const checkpointFormatVersion = 1

// Checkpoint is a point-in-time snapshot of every channel of an execution.
type Checkpoint struct {
	V               int                          `json:"v" msgpack:"v"`
	ID              string                       `json:"id" msgpack:"id"`
	TS              string                       `json:"ts" msgpack:"ts"`
	ChannelValues   map[string]any               `json:"channel_values,omitempty" msgpack:"channel_values,omitempty"`
	ChannelVersions map[string]string            `json:"channel_versions,omitempty" msgpack:"channel_versions,omitempty"`
	VersionsSeen    map[string]map[string]string `json:"versions_seen,omitempty" msgpack:"versions_seen,omitempty"`
}

// Metadata annotates a checkpoint. It is never used for querying.
type Metadata struct {
	Source  string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Step    int               `json:"step" msgpack:"step"`
	Writes  map[string]any    `json:"writes,omitempty" msgpack:"writes,omitempty"`
	Parents map[string]string `json:"parents,omitempty" msgpack:"parents,omitempty"`
}

// NewCheckpointID returns a UUIDv7 string. UUIDv7 strings sort in creation
// order, which is what "latest checkpoint" resolution relies on.
func NewCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// NewCheckpoint builds a snapshot with a fresh time-ordered ID.
func NewCheckpoint(values map[string]any) *Checkpoint {
	return &Checkpoint{
		V:             checkpointFormatVersion,
		ID:            NewCheckpointID(),
		TS:            time.Now().UTC().Format(time.RFC3339Nano),
		ChannelValues: values,
	}
}

// Copy returns a shallow copy with its own top-level maps, so a caller can
// derive the next snapshot without mutating one already handed to the store.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.ChannelValues = mergeValues(c.ChannelValues, nil)
	if c.ChannelVersions != nil {
		out.ChannelVersions = make(map[string]string, len(c.ChannelVersions))
		for k, v := range c.ChannelVersions {
			out.ChannelVersions[k] = v
		}
	}
	if c.VersionsSeen != nil {
		out.VersionsSeen = make(map[string]map[string]string, len(c.VersionsSeen))
		for node, seen := range c.VersionsSeen {
			inner := make(map[string]string, len(seen))
			for k, v := range seen {
				inner[k] = v
			}
			out.VersionsSeen[node] = inner
		}
	}
	return &out
}

// Next derives the successor snapshot: a copy with a new ID and timestamp and
// the given channel values overlaid.
func (c *Checkpoint) Next(values map[string]any) *Checkpoint {
	next := c.Copy()
	next.V = checkpointFormatVersion
	next.ID = NewCheckpointID()
	next.TS = time.Now().UTC().Format(time.RFC3339Nano)
	next.ChannelValues = mergeValues(next.ChannelValues, values)
	return next
}

func mergeValues(a, b map[string]any) map[string]any {
	if a == nil && b == nil {
		return nil
	}

	result := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		result[k] = v
	}

	for k, v := range b {
		result[k] = v
	}

	return result
}
