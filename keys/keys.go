// Package keys maps checkpoint and pending-write identities onto the
// (partition, sort) key pairs of the backing table.
//
// Layout:
//
//	checkpoint  PK "checkpoint#<thread_id>"  SK "<checkpoint_ns>#<checkpoint_id>"
//	write       PK "writes#<thread_id>"      SK "<checkpoint_ns>#<checkpoint_id>#<task_id>#<idx>"
//
// Separator must not occur inside thread, namespace, checkpoint or task ids.
// Callers own that constraint; nothing here checks it.
package keys

import (
	"strconv"
	"strings"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/xerror"
)

const Separator = "#"

const (
	checkpointTag = "checkpoint"
	writesTag     = "writes"
)

// CompositeKey is a (partition key, sort key) pair.
type CompositeKey struct {
	PK string
	SK string
}

func (k CompositeKey) String() string {
	return k.PK + " " + k.SK
}

// CheckpointRef identifies one checkpoint.
type CheckpointRef struct {
	ThreadID     string
	CheckpointNS string
	CheckpointID string
}

// WriteRef identifies one pending write of a checkpoint.
type WriteRef struct {
	CheckpointRef
	TaskID string
	Idx    int
}

func join(parts ...string) string {
	return strings.Join(parts, Separator)
}

// CheckpointKey returns the key a checkpoint record is stored under.
func CheckpointKey(threadID, checkpointNS, checkpointID string) CompositeKey {
	return CompositeKey{
		PK: join(checkpointTag, threadID),
		SK: join(checkpointNS, checkpointID),
	}
}

// CheckpointPrefix is the range-scan prefix covering every checkpoint of one
// thread and namespace.
func CheckpointPrefix(threadID, checkpointNS string) CompositeKey {
	return CheckpointKey(threadID, checkpointNS, "")
}

// WritesKey returns the key of the idx-th write taskID produced for a checkpoint.
func WritesKey(threadID, checkpointNS, checkpointID, taskID string, idx int) CompositeKey {
	return CompositeKey{
		PK: join(writesTag, threadID),
		SK: join(checkpointNS, checkpointID, taskID, strconv.Itoa(idx)),
	}
}

// WritesPrefix is the range-scan prefix covering every pending write of one
// checkpoint, across all tasks.
func WritesPrefix(threadID, checkpointNS, checkpointID string) CompositeKey {
	return CompositeKey{
		PK: join(writesTag, threadID),
		SK: join(checkpointNS, checkpointID, ""),
	}
}

// ParseCheckpointKey decodes a stored checkpoint key. It fails with
// flowcontract.ErrInvalidKey on any other shape.
func ParseCheckpointKey(key CompositeKey) (CheckpointRef, error) {
	threadID, err := parsePartition(key, checkpointTag)
	if err != nil {
		return CheckpointRef{}, err
	}

	fields := strings.Split(key.SK, Separator)
	if len(fields) != 2 {
		return CheckpointRef{}, invalid(key, "sort key has %d fields, want 2", len(fields))
	}

	return CheckpointRef{
		ThreadID:     threadID,
		CheckpointNS: fields[0],
		CheckpointID: fields[1],
	}, nil
}

// ParseWritesKey decodes a stored write key. It fails with
// flowcontract.ErrInvalidKey on any other shape or a bad idx.
func ParseWritesKey(key CompositeKey) (WriteRef, error) {
	threadID, err := parsePartition(key, writesTag)
	if err != nil {
		return WriteRef{}, err
	}

	fields := strings.Split(key.SK, Separator)
	if len(fields) != 4 {
		return WriteRef{}, invalid(key, "sort key has %d fields, want 4", len(fields))
	}

	idx, err := strconv.Atoi(fields[3])
	if err != nil || idx < 0 {
		return WriteRef{}, invalid(key, "idx %q is not a non-negative integer", fields[3])
	}

	return WriteRef{
		CheckpointRef: CheckpointRef{
			ThreadID:     threadID,
			CheckpointNS: fields[0],
			CheckpointID: fields[1],
		},
		TaskID: fields[2],
		Idx:    idx,
	}, nil
}

func parsePartition(key CompositeKey, tag string) (string, error) {
	fields := strings.Split(key.PK, Separator)
	if len(fields) != 2 {
		return "", invalid(key, "partition key has %d fields, want 2", len(fields))
	}
	if fields[0] != tag {
		return "", invalid(key, "partition tag %q, want %q", fields[0], tag)
	}
	return fields[1], nil
}

func invalid(key CompositeKey, format string, args ...any) error {
	args = append([]any{flowcontract.ErrInvalidKey, key.PK, key.SK}, args...)
	return xerror.Errorf("%w: (%s, %s): "+format, args...)
}
