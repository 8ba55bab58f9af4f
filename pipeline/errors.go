package pipeline

import "errors"

var (
	// ErrParentNotFound means the block's parent header is unknown; the
	// block is stashed in PendingBlocks for later retry once its parent
	// arrives.
	ErrParentNotFound = errors.New("pipeline: parent header not found")
	// ErrStateRootMismatch means the merkleized state root disagrees with
	// the block header's declared root.
	ErrStateRootMismatch = errors.New("pipeline: invalid block: state root mismatch")
	// ErrShutdownSignal is returned by ProcessBatch when the caller's
	// context is canceled between blocks; no partial commit occurs.
	ErrShutdownSignal = errors.New("pipeline: shutdown signal")
)
