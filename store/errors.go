package store

import "errors"

var (
	// ErrNotFound is returned by UpdateForkchoice when the head header is
	// unknown. Point lookups report a missing key as a nil result instead.
	ErrNotFound = errors.New("store: not found")
	// ErrNotCanonical names a transaction location whose block is no longer
	// canonical. No function in this package returns it:
	// GetTransactionLocation reports that case as found=false.
	ErrNotCanonical = errors.New("store: not canonical")
	// ErrLocked is returned by Open when another process already holds the
	// datadir lock.
	ErrLocked = errors.New("store: datadir locked by another process")
)
