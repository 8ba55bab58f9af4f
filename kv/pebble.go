package kv

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/log"
)

// pebbleBackend implements Backend on top of a single pebble.DB, the
// embedded LSM engine already present in the teacher's dependency graph
// (pulled in transitively through go-ethereum's pebble-backed ethdb driver).
// Tables are emulated by prefixing every key with "<table>\x00".
type pebbleBackend struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// Open creates or opens a pebble-backed Backend at dir.
func Open(dir string) (Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackend, dir, err)
	}
	return &pebbleBackend{db: db}, nil
}

func tableKey(table string, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, table...)
	out = append(out, 0)
	out = append(out, key...)
	return out
}

func tablePrefixBounds(table string, prefix []byte) (lo, hi []byte) {
	lo = tableKey(table, prefix)
	hi = make([]byte, len(lo))
	copy(hi, lo)
	// Find the rightmost byte that can be incremented to form an exclusive
	// upper bound; if every byte is 0xFF the table has no upper bound within
	// its own prefix, so fall back to the next table's prefix.
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] < 0xFF {
			hi[i]++
			return lo, hi[:i+1]
		}
	}
	return lo, append([]byte(table), 1)
}

func (b *pebbleBackend) BeginRead() (ReadTx, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &pebbleReadTx{snap: b.db.NewSnapshot()}, nil
}

func (b *pebbleBackend) BeginWrite() (WriteTx, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &pebbleWriteTx{db: b.db, batch: b.db.NewIndexedBatch()}, nil
}

func (b *pebbleBackend) ClearTable(table string) error {
	tx, err := b.BeginWrite()
	if err != nil {
		return err
	}
	it, err := tx.Prefix(table, nil)
	if err != nil {
		tx.Rollback()
		return err
	}
	var keys [][]byte
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		keys = append(keys, k)
	}
	err = it.Err()
	it.Close()
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(table, k); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *pebbleBackend) CreateCheckpoint(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.db.Checkpoint(path); err != nil {
		return fmt.Errorf("%w: checkpoint %s: %v", ErrBackend, path, err)
	}
	return nil
}

func (b *pebbleBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		log.Error("Failed to close pebble backend", "err", err)
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

type pebbleReadTx struct {
	snap *pebble.Snapshot
}

func (t *pebbleReadTx) Get(table string, key []byte) ([]byte, error) {
	v, closer, err := t.snap.Get(tableKey(table, key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, nil
}

func (t *pebbleReadTx) Prefix(table string, prefix []byte) (Iterator, error) {
	lo, hi := tablePrefixBounds(table, prefix)
	it, err := t.snap.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return &pebbleIterator{it: it, table: table, first: true}, nil
}

func (t *pebbleReadTx) Discard() {
	t.snap.Close()
}

type pebbleWriteTx struct {
	db    *pebble.DB
	batch *pebble.Batch
	done  bool
}

func (t *pebbleWriteTx) Get(table string, key []byte) ([]byte, error) {
	v, closer, err := t.batch.Get(tableKey(table, key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, nil
}

func (t *pebbleWriteTx) Prefix(table string, prefix []byte) (Iterator, error) {
	lo, hi := tablePrefixBounds(table, prefix)
	it, err := t.batch.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return &pebbleIterator{it: it, table: table, first: true}, nil
}

func (t *pebbleWriteTx) Put(table string, key, value []byte) error {
	if err := t.batch.Set(tableKey(table, key), value, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (t *pebbleWriteTx) Delete(table string, key []byte) error {
	if err := t.batch.Delete(tableKey(table, key), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (t *pebbleWriteTx) PutBatch(table string, kvs []KV) error {
	for _, kv := range kvs {
		if len(kv.Value) == 0 {
			if err := t.Delete(table, kv.Key); err != nil {
				return err
			}
			continue
		}
		if err := t.Put(table, kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (t *pebbleWriteTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrBackend, err)
	}
	return nil
}

func (t *pebbleWriteTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.batch.Close()
}

type pebbleIterator struct {
	it    *pebble.Iterator
	table string
	first bool
	err   error
}

func (it *pebbleIterator) Next() bool {
	if it.first {
		it.first = false
		return it.it.First()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	full := it.it.Key()
	return full[len(it.table)+1:]
}

func (it *pebbleIterator) Value() []byte {
	return it.it.Value()
}

func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Error()
}

func (it *pebbleIterator) Close() error {
	return it.it.Close()
}
