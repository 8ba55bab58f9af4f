package checkpoint

import "errors"

var (
	// ErrMissingCheckpoint means CloneForBatch was asked for a previously
	// sealed batch number whose checkpoint directory does not exist.
	ErrMissingCheckpoint = errors.New("checkpoint: no checkpoint directory for batch")
	// ErrUnknownStateInDB is the fatal configuration error spec.md names:
	// regeneration walked all the way back to block 0 without finding a
	// state root actually present in the backend.
	ErrUnknownStateInDB = errors.New("checkpoint: unknown state at block 0")
)
