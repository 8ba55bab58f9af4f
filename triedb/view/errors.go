package view

import "errors"

// ErrIteratorStale names the condition of an iterator whose backing layer
// stack has advanced past the root it was opened against. Nothing in this
// package returns it: Iterator.Next reports only a bool, New returns no
// pivot-change channel, and an open Iterator does not detect staleness.
var ErrIteratorStale = errors.New("view: iterator stale, restart required")
