package view

import (
	"bytes"

	"github.com/ethereum-mive/l2exec/kv"
)

// Iterator merges the sorted dirty overlay with a backend prefix iterator,
// the overlay winning ties (it reflects writes newer than anything on
// disk) and tombstones (empty overlay values) suppressing the
// corresponding backend entry entirely.
type Iterator struct {
	backend kv.Iterator
	dirty   []kv.KV
	di      int

	bKey, bVal []byte
	bOk        bool

	key, val []byte
	err      error
}

// advanceBackend pulls the next entry from the backend iterator, if any.
func (it *Iterator) advanceBackend() {
	it.bOk = it.backend.Next()
	if it.bOk {
		it.bKey = append(it.bKey[:0], it.backend.Key()...)
		it.bVal = append(it.bVal[:0], it.backend.Value()...)
	}
	if it.err == nil {
		it.err = it.backend.Err()
	}
}

// Next advances the iterator, skipping tombstones, and reports whether a
// (Key, Value) pair is now available.
func (it *Iterator) Next() bool {
	for {
		hasDirty := it.di < len(it.dirty)
		switch {
		case hasDirty && it.bOk:
			cmp := bytes.Compare(it.dirty[it.di].Key, it.bKey)
			switch {
			case cmp < 0:
				it.emitDirty()
			case cmp == 0:
				it.emitDirty()
				it.advanceBackend()
			default:
				it.emitBackend()
			}
		case hasDirty:
			it.emitDirty()
		case it.bOk:
			it.emitBackend()
		default:
			return false
		}
		if it.key != nil {
			return true
		}
		// The entry just consumed was a tombstone; keep looking.
	}
}

func (it *Iterator) emitDirty() {
	entry := it.dirty[it.di]
	it.di++
	if len(entry.Value) == 0 {
		it.key, it.val = nil, nil
		return
	}
	it.key, it.val = entry.Key, entry.Value
}

func (it *Iterator) emitBackend() {
	// Copy before advancing: advanceBackend reuses bKey/bVal's storage.
	key := append(make([]byte, 0, len(it.bKey)), it.bKey...)
	val := append(make([]byte, 0, len(it.bVal)), it.bVal...)
	it.advanceBackend()
	it.key, it.val = key, val
}

func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Value() []byte { return it.val }
func (it *Iterator) Err() error    { return it.err }
func (it *Iterator) Close() error  { return it.backend.Close() }
