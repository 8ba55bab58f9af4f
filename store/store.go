// Package store implements the store facade (C8): the single public API
// composing the backend (C1), layer cache (C2), trie view (C3),
// merkleization shards (C4), execution pipeline (C5), background trie
// worker (C6) and flat-kv generator (C7) into block/header/body/receipt/
// transaction/witness/account/storage operations.
//
// Grounded on the teacher's core/blockchain.go + core/blockchain_reader.go
// split: a facade struct owning a header-chain-like cache plus the single
// backend, with reads short-circuiting through an atomically-swapped
// "current head" pointer for the common case.
package store

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

// LayerCacheSource is satisfied by triedb/worker.Worker: the store needs
// the live layer cache to build a View for any read, but must never
// mutate it itself — only C6 owns that pointer.
type LayerCacheSource interface {
	LoadLayerCache() *layer.Cache
}

// PivotSource is satisfied by flatkv.Generator: the store needs the
// current flat-kv cursor to build a View, the same way C6 needs it to
// route an evicted node correctly.
type PivotSource interface {
	Pivot() []byte
}

// Store is the facade over the whole component stack. It holds the single
// Backend and the read-only collaborators that publish their own state
// (the layer cache, the flat-kv pivot); it never constructs or owns C5/C6/
// C7 itself, since those run their own goroutines wired up by the binary
// that constructs a Store.
type Store struct {
	backend     kv.Backend
	ownsBackend bool
	layers      LayerCacheSource
	pivot       PivotSource

	lock   *flock.Flock
	future *futureQueue

	currentHeader atomic.Pointer[gethtypes.Header]
}

// Open locks dir (the same way the teacher's node.Node guards its datadir,
// via gofrs/flock), opens its own backend, and seeds the current-header
// cache from persisted chain data. Close releases the lock.
func Open(dir string, layers LayerCacheSource, pivot PivotSource) (*Store, error) {
	backend, err := kv.Open(dir)
	if err != nil {
		return nil, err
	}
	s, err := OpenWithBackend(dir, backend, layers, pivot)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.ownsBackend = true
	return s, nil
}

// OpenWithBackend is Open for a binary that already opened backend itself
// — the background trie worker (C6) and flat-kv generator (C7) both need
// direct kv.Backend access the store facade never exposes, so the binary
// wiring them together opens one backend up front and shares it here
// rather than this package opening a second, conflicting one over the
// same datadir. The caller retains ownership of backend and must close it
// itself; Store.Close only releases the datadir lock in this path.
func OpenWithBackend(dir string, backend kv.Backend, layers LayerCacheSource, pivot PivotSource) (*Store, error) {
	lock := flock.New(dir + "/LOCK")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: lock %s: %w", dir, err)
	}
	if !locked {
		return nil, ErrLocked
	}

	s := &Store{backend: backend, layers: layers, pivot: pivot, lock: lock, future: newFutureQueue()}
	if err := s.loadCurrentHeader(); err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := s.loadPendingIndex(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return s, nil
}

// NewEphemeral builds a Store over backend without taking the datadir
// lock or restoring the pending-block index: the checkpoint manager's
// block applier uses it to get CommitBlock's header/body/receipt/code
// persistence for a disposable clone backend it already owns exclusively,
// without fighting that clone's own (nonexistent) LOCK file.
func NewEphemeral(backend kv.Backend, layers LayerCacheSource, pivot PivotSource) (*Store, error) {
	s := &Store{backend: backend, layers: layers, pivot: pivot, future: newFutureQueue()}
	if err := s.loadCurrentHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateCheckpoint delegates to the backend's atomic on-disk copy,
// letting the checkpoint manager (C11) clone the live store's current
// state without reaching past this facade into kv.Backend directly.
func (s *Store) CreateCheckpoint(dst string) error {
	return s.backend.CreateCheckpoint(dst)
}

// loadPendingIndex rebuilds the in-memory future-block priority queue from
// whatever PENDING_BLOCKS entries survived a restart.
func (s *Store) loadPendingIndex() error {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return err
	}
	defer rtx.Discard()
	it, err := rtx.Prefix(kv.PendingBlocks, nil)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		block := new(gethtypes.Block)
		if err := decodeRLP(it.Value(), block); err != nil {
			log.Error("store: decode pending block, dropping", "err", err)
			continue
		}
		s.future.push(block.NumberU64(), block.Hash())
	}
	return it.Err()
}

func (s *Store) loadCurrentHeader() error {
	number, ok, err := s.readChainDataU64(kv.ChainDataLatestBlockNumber)
	if err != nil || !ok {
		return err
	}
	hash, err := s.readCanonicalHash(number)
	if err != nil {
		return err
	}
	if hash == (common.Hash{}) {
		return nil
	}
	header, err := s.readHeader(hash)
	if err != nil {
		return err
	}
	if header != nil {
		s.currentHeader.Store(header)
	}
	return nil
}

// Close releases the datadir lock, and closes the backend too if Open (not
// OpenWithBackend) opened it.
func (s *Store) Close() error {
	var err error
	if s.ownsBackend {
		err = s.backend.Close()
	}
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			log.Error("store: release datadir lock failed", "err", unlockErr)
		}
	}
	return err
}

// CurrentHeader returns the cached canonical head header, or nil before
// any block has been committed. It is safe to call from any goroutine.
func (s *Store) CurrentHeader() *gethtypes.Header {
	return s.currentHeader.Load()
}

// View builds a trie view over the current layer cache and flat-kv pivot
// for a single read, backed by a fresh read transaction the caller must
// Discard. The witness builder (C9) and RPC-facing account/storage reads
// both go through this rather than touching the backend directly.
func (s *Store) View(root common.Hash) (*view.View, kv.ReadTx, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, nil, err
	}
	return view.New(s.layers.LoadLayerCache(), root, rtx, s.pivot.Pivot()), rtx, nil
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func u64FromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func (s *Store) readChainDataU64(idx kv.ChainDataIndex) (uint64, bool, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return 0, false, err
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.ChainData, []byte{byte(idx)})
	if err != nil {
		return 0, false, err
	}
	if val == nil {
		return 0, false, nil
	}
	return u64FromBytes(val), true, nil
}

func (s *Store) readCanonicalHash(number uint64) (common.Hash, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return common.Hash{}, err
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.CanonicalBlockHashes, u64Bytes(number))
	if err != nil {
		return common.Hash{}, err
	}
	if val == nil {
		return common.Hash{}, nil
	}
	var hash common.Hash
	if err := decodeRLP(val, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}
