package flowcontract

import "errors"

var (
	// ErrNotFound reports a point lookup or latest resolution that matched
	// nothing. Checkpointer methods turn it into an empty result.
	ErrNotFound = errors.New("checkpoint: not found")

	// ErrInvalidKey reports a stored key that does not have the expected
	// shape. It means the data model drifted and is never recovered from.
	ErrInvalidKey = errors.New("checkpoint: invalid key")

	// ErrInvalidConfig reports a call missing what it needs to address a
	// checkpoint, or settings the store cannot run with.
	ErrInvalidConfig = errors.New("checkpoint: invalid config")
)
