package kv

import "errors"

// ErrBackend wraps any error surfaced by the underlying storage engine.
// ErrLockPoisoned is fatal: the process should crash rather than continue
// with a backend whose write-path invariants may no longer hold.
var (
	ErrBackend      = errors.New("kv: backend error")
	ErrLockPoisoned = errors.New("kv: lock poisoned")
	ErrNoSuchTable  = errors.New("kv: no such table")
	ErrClosed       = errors.New("kv: backend closed")
)
