package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/store"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/worker"
)

// noopPivot satisfies both worker.PivotController and pipeline.PivotSource
// with an always-empty flat-kv cursor: a checkpoint clone is replayed from
// scratch against its own trie tables only, never against a live flat-kv
// generator of its own, so there is never anything to route around.
type noopPivot struct{}

func (noopPivot) Stop()         {}
func (noopPivot) Continue()     {}
func (noopPivot) Pivot() []byte { return nil }

// singleParent is a pipeline.HeaderSource of exactly one header: the
// block the checkpoint manager is about to replay already carries its
// own parent, so the applier never needs a real header index.
type singleParent struct{ header *gethtypes.Header }

func (s singleParent) HeaderByHash(hash common.Hash) (*gethtypes.Header, bool) {
	if hash == s.header.Hash() {
		return s.header, true
	}
	return nil, false
}

// refusePending fails loudly if the pipeline ever tries to stash a block
// during checkpoint replay, which would mean the checkpoint manager
// handed the applier a block whose parent it had not already replayed.
type refusePending struct{}

func (refusePending) StashPending(block *gethtypes.Block) error {
	return fmt.Errorf("checkpoint replay: unexpected missing parent for block %d", block.NumberU64())
}

// checkpointApplier implements l2/checkpoint.BlockApplier by running one
// block through a disposable pipeline.Pipeline pointed at the clone's own
// backend, reusing the same Warmer/Executor/Validator collaborators the
// live pipeline runs rather than a second copy of block-processing logic.
// Grounded on l2/checkpoint's own doc comment that wiring a concrete
// BlockApplier backed by pipeline.Pipeline is the top-level binary's job.
//
// Each call builds a fresh, empty layer.Cache with threshold 0: since a
// clone's backend is the only thing that survives between ApplyBlock
// calls (the cache itself is thrown away when the call returns), the one
// layer pushed for this block must evict straight to the backend before
// ApplyBlock returns, rather than waiting in memory for a threshold that
// will never be reached again.
type checkpointApplier struct {
	warmer    pipeline.Warmer
	executor  pipeline.Executor
	validator pipeline.HeaderValidator
}

func (a *checkpointApplier) ApplyBlock(ctx context.Context, backend kv.Backend, block *gethtypes.Block, parent *gethtypes.Header) error {
	cache := layer.NewCache(0)
	pivot := noopPivot{}
	updates := make(chan pipeline.TrieUpdate, 1)

	w := worker.New(cache, parent.Root, backend, pivot, updates)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(wctx)

	committer, err := store.NewEphemeral(backend, w, pivot)
	if err != nil {
		return fmt.Errorf("checkpoint replay: open ephemeral commit target: %w", err)
	}

	p := pipeline.New(pipeline.Dependencies{
		Headers:      singleParent{parent},
		Validator:    a.validator,
		Layers:       w,
		Backend:      backend,
		Pivot:        pivot,
		Warmer:       a.warmer,
		Executor:     a.executor,
		Committer:    committer,
		PendingStore: refusePending{},
		TrieUpdates:  updates,
	})
	if err := p.ProcessBlock(ctx, block, nil); err != nil {
		return err
	}

	// ProcessBlock only waits on the layer cache's P1 publish (the
	// rendezvous ack), not on P2/P3's backend persistence; the live
	// worker runs forever so that's fine, but this worker's cache is
	// thrown away the moment ApplyBlock returns. Wait for the single
	// layer pushed above to actually land in backend (threshold 0 means
	// it is evicted as soon as it's pushed) before tearing the worker
	// down, or the block's trie nodes never reach disk.
	deadline := time.Now().Add(5 * time.Second)
	for w.PersistedRoot() != block.Root() {
		if time.Now().After(deadline) {
			return fmt.Errorf("checkpoint replay: trie nodes for block %d did not persist in time", block.NumberU64())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}
