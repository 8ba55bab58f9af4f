package layer

import "errors"

var (
	// ErrParentMismatch is returned by PutBatch when the new layer's parent
	// root is neither the current top's child root nor the stack is empty.
	ErrParentMismatch = errors.New("layer: parent root does not chain from current top")
	// ErrBottomMismatch is returned by Commit when the caller's expected root
	// does not match the bottom layer's child root.
	ErrBottomMismatch = errors.New("layer: bottom layer child root mismatch")
	// ErrEmptyStack is returned by Commit on an empty cache.
	ErrEmptyStack = errors.New("layer: stack is empty")
)
