package committer

import "errors"

var (
	// ErrNoBlocksToSequence is returned by Produce when there is nothing
	// past the previous batch's last block yet.
	ErrNoBlocksToSequence = errors.New("committer: no blocks to sequence")
	// ErrBatchNotSealed names the case of a batch number that Produce has
	// not sealed yet. No function in this package returns it.
	ErrBatchNotSealed = errors.New("committer: batch not sealed")
	// ErrStopped names the Stopped state of the committer's state machine.
	// No function in this package returns it; Run simply returns on Stop.
	ErrStopped = errors.New("committer: stopped")
)
