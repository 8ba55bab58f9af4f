package kv

// KV pair as returned by a prefix iterator, in ascending lexicographic key order.
type KV struct {
	Key   []byte
	Value []byte
}

// Reader is satisfied by both ReadTx and WriteTx: a point lookup and a
// prefix iterator bounded to keys sharing the given prefix.
type Reader interface {
	Get(table string, key []byte) ([]byte, error)
	// Prefix returns an iterator over keys in table that share prefix,
	// in ascending lexicographic order. The iterator must be closed.
	Prefix(table string, prefix []byte) (Iterator, error)
}

// Iterator walks a table's keys in sorted order until exhausted or closed.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// ReadTx is an immutable point-in-time snapshot. Readers never block writers
// and never observe a partially-applied WriteTx.
type ReadTx interface {
	Reader
	Discard()
}

// WriteTx batches mutations; nothing is visible to other transactions until
// Commit returns successfully. Commit is atomic: either all puts/deletes
// land, or none do.
type WriteTx interface {
	Reader
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
	PutBatch(table string, kvs []KV) error
	Commit() error
	Rollback()
}

// Backend is the storage engine facade (C1). Implementations must guarantee
// that a committed WriteTx is visible to every ReadTx begun afterwards.
type Backend interface {
	BeginRead() (ReadTx, error)
	BeginWrite() (WriteTx, error)
	ClearTable(table string) error
	// CreateCheckpoint produces an independent, self-contained on-disk copy
	// of the backend at path. The copy reflects all transactions committed
	// before CreateCheckpoint was called.
	CreateCheckpoint(path string) error
	Close() error
}
