// Package worker implements the background trie worker (C6): the single
// long-running goroutine that applies finalized diff layers to the shared
// layer cache, persists the bottom layer to the backend once the stack
// grows past its commit threshold, and gates the flat-kv generator (C7)
// around that persistence write.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

// atomicCache and atomicHash wrap the generics atomic.Pointer for the two
// values this goroutine publishes: the layer cache itself (P1/P3) and the
// backend's persisted root (P3), each safe for concurrent LoadLayerCache /
// PersistedRoot reads from any goroutine while only this worker ever
// writes.
type atomicCache struct{ p atomic.Pointer[layer.Cache] }

func (a *atomicCache) store(c *layer.Cache) { a.p.Store(c) }
func (a *atomicCache) load() *layer.Cache   { return a.p.Load() }

type atomicHash struct{ p atomic.Pointer[common.Hash] }

func (a *atomicHash) store(h common.Hash) { a.p.Store(&h) }
func (a *atomicHash) load() common.Hash {
	if v := a.p.Load(); v != nil {
		return *v
	}
	return common.Hash{}
}

var (
	persistTimer   = metrics.NewRegisteredTimer("triedb/worker/persist", nil)
	layersGauge    = metrics.NewRegisteredGauge("triedb/worker/layers", nil)
	persistedGauge = metrics.NewRegisteredCounter("triedb/worker/persisted_nodes", nil)
)

// PivotController is C7's control surface as seen by the background trie
// worker: Stop pauses the generator cooperatively before a persistence
// write begins (a no-op if the generator is already paused or done),
// Continue resumes it afterward, and Pivot reports its current cursor so
// persisted leaves the generator itself owns are skipped.
type PivotController interface {
	Stop()
	Continue()
	Pivot() []byte
}

// Worker owns the single Arc-equivalent (atomic.Pointer) to the shared
// layer cache and is the only goroutine allowed to mutate it.
type Worker struct {
	cache   atomicCache
	root    atomicHash
	backend kv.Backend
	pivot   PivotController
	updates <-chan pipeline.TrieUpdate
}

// New builds a Worker seeded with the layer cache snapshot current at
// startup and the backend's already-persisted state root.
func New(initial *layer.Cache, persistedRoot common.Hash, backend kv.Backend, pivot PivotController, updates <-chan pipeline.TrieUpdate) *Worker {
	w := &Worker{backend: backend, pivot: pivot, updates: updates}
	w.cache.store(initial)
	w.root.store(persistedRoot)
	return w
}

// LoadLayerCache implements pipeline.LayerCacheSource and store.LayerCacheSource:
// readers across the rest of the system observe exactly the pointer this
// worker last published, never a partially-applied one.
func (w *Worker) LoadLayerCache() *layer.Cache { return w.cache.load() }

// PersistedRoot reports the state root the backend's trie tables currently
// reflect, i.e. the root as of the last successful P2/P3 persistence.
func (w *Worker) PersistedRoot() common.Hash { return w.root.load() }

// Run drains updates until the channel closes or ctx is canceled. It is
// meant to run for the lifetime of the process on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case u, ok := <-w.updates:
			if !ok {
				return
			}
			w.apply(u)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) apply(u pipeline.TrieUpdate) {
	nodes := flatten(u)
	current := w.cache.load()
	next, err := current.PutBatch(u.ParentStateRoot, u.ChildStateRoot, nodes)
	if err != nil {
		u.ResultSender <- err
		return
	}

	// P1: publish the top layer. Block production may proceed the instant
	// this completes; P2/P3 run without the executor waiting on them.
	w.cache.store(next)
	layersGauge.Update(int64(next.Len()))
	u.ResultSender <- nil

	childRoot, ok := next.GetCommitable(w.root.load())
	if !ok {
		return
	}
	w.persistBottom(next, childRoot)
}

// persistBottom implements P2 (maybe persist) and P3 (publish eviction).
// A backend failure is logged and dropped: the layer stays in memory, and
// the next TrieUpdate retries the same persistence attempt because the
// stack is still past threshold and the bottom layer is unchanged.
func (w *Worker) persistBottom(cache *layer.Cache, childRoot common.Hash) {
	shortened, evicted, err := cache.Commit(childRoot)
	if err != nil {
		log.Error("triedb worker: commit precondition failed, will retry", "err", err)
		return
	}

	w.pivot.Stop()
	defer w.pivot.Continue()

	start := time.Now()
	defer func() { persistTimer.UpdateSince(start) }()

	wtx, err := w.backend.BeginWrite()
	if err != nil {
		log.Error("triedb worker: begin write transaction failed, will retry", "err", err)
		return
	}
	// RouteNode already encodes the "skip leaves ahead of the pivot" rule:
	// a leaf at or behind the pivot routes to the flat-kv table, a leaf
	// still ahead of it routes to the trie-node table exactly like an
	// internal node, leaving it for C7 to materialize into flat-kv itself.
	pivot := w.pivot.Pivot()
	for path, nodeBytes := range evicted.Nodes {
		table, key := view.RouteNode([]byte(path), pivot)
		value := nodeBytes
		if (table == kv.AccountFlatKeyValue || table == kv.StorageFlatKeyValue) && len(nodeBytes) > 0 {
			decoded, err := merkle.DecodeLeafValue(nodeBytes)
			if err != nil {
				log.Error("triedb worker: decode leaf for flat-kv failed", "table", table, "err", err)
				continue
			}
			value = decoded
		}
		writeOrDelete(wtx, table, key, value)
	}
	if err := wtx.Commit(); err != nil {
		wtx.Rollback()
		log.Error("triedb worker: commit write transaction failed, will retry", "err", err)
		return
	}
	persistedGauge.Inc(int64(len(evicted.Nodes)))

	// P3: publish the post-commit eviction.
	w.root.store(childRoot)
	w.cache.store(shortened)
	layersGauge.Update(int64(shortened.Len()))
}

func writeOrDelete(wtx kv.WriteTx, table string, key, value []byte) {
	if len(value) == 0 {
		if err := wtx.Delete(table, key); err != nil {
			log.Error("triedb worker: delete during persist failed", "table", table, "err", err)
		}
		return
	}
	if err := wtx.Put(table, key, value); err != nil {
		log.Error("triedb worker: put during persist failed", "table", table, "err", err)
	}
}

// flatten merges a TrieUpdate's account and storage node sets into one
// NodeSet. Storage paths already carry the 64-nibble hashed account
// address as a prefix — C4's CollectStorages builds each account's
// sub-trie rooted at that prefix — so no further combination is needed
// here beyond a plain merge.
func flatten(u pipeline.TrieUpdate) layer.NodeSet {
	merged := make(layer.NodeSet, len(u.AccountUpdates))
	for path, bytes := range u.AccountUpdates {
		merged[path] = bytes
	}
	for _, nodes := range u.StorageUpdates {
		for path, bytes := range nodes {
			merged[path] = bytes
		}
	}
	return merged
}
