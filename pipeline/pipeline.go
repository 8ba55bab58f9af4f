// Package pipeline implements the execution pipeline (C5): per block it
// locates the parent, pre-validates the header, wraps the backing state in
// a caching view, runs the warmer/executor/merkleizer trio under one
// scoped errgroup, validates the resulting state root, hands the result to
// the background trie worker via a one-slot rendezvous, and only then
// commits the block's own tables.
package pipeline

import (
	"context"
	"fmt"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

var (
	warmTimer    = metrics.NewRegisteredTimer("pipeline/warm", nil)
	executeTimer = metrics.NewRegisteredTimer("pipeline/execute", nil)
	commitTimer  = metrics.NewRegisteredTimer("pipeline/commit", nil)
)

// LayerCacheSource returns the current RCU-published layer cache snapshot;
// the background trie worker (C6) owns the atomic pointer this reads.
type LayerCacheSource interface {
	LoadLayerCache() *layer.Cache
}

// PivotSource returns the flat-kv generator's current cursor.
type PivotSource interface {
	Pivot() []byte
}

// Dependencies bundles every collaborator the pipeline needs; the EVM
// itself is always external (Executor/Warmer), per the interpreter being
// treated as a black box.
type Dependencies struct {
	Headers      HeaderSource
	Validator    HeaderValidator
	Layers       LayerCacheSource
	Backend      kv.Backend
	Pivot        PivotSource
	Warmer       Warmer
	Executor     Executor
	Committer    BlockCommitter
	PendingStore PendingBlockStore
	// TrieUpdates is the one-slot rendezvous channel to the background
	// trie worker (C6); sending blocks until C6 accepts the message, and
	// the pipeline then waits on the message's own ResultSender.
	TrieUpdates chan<- TrieUpdate
	// DispatchBuffer sizes each of C4's sixteen shard queues.
	DispatchBuffer int
}

// Pipeline drives one block (or a batch of blocks) through the staged
// execution described above.
type Pipeline struct {
	deps Dependencies
}

func New(deps Dependencies) *Pipeline {
	if deps.DispatchBuffer == 0 {
		deps.DispatchBuffer = 256
	}
	return &Pipeline{deps: deps}
}

// ProcessBlock runs one block through the full pipeline.
func (p *Pipeline) ProcessBlock(ctx context.Context, block *gethtypes.Block, bal *BlockAccessList) error {
	parent, ok := p.deps.Headers.HeaderByHash(block.ParentHash())
	if !ok {
		if err := p.deps.PendingStore.StashPending(block); err != nil {
			log.Error("Failed to stash pending block", "number", block.NumberU64(), "err", err)
		}
		return ErrParentNotFound
	}
	if err := p.deps.Validator.ValidateHeader(block.Header(), parent); err != nil {
		return err
	}

	rtx, err := p.deps.Backend.BeginRead()
	if err != nil {
		return fmt.Errorf("pipeline: begin read snapshot: %w", err)
	}
	defer rtx.Discard()

	v := view.New(p.deps.Layers.LoadLayerCache(), parent.Root, rtx, p.deps.Pivot.Pivot())
	dispatcher := p.newSink(bal)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		_, err := p.deps.Warmer.Warm(gctx, block, parent, v, bal)
		warmTimer.UpdateSince(start)
		return err
	})

	var execResult *ExecutionResult
	g.Go(func() (err error) {
		start := time.Now()
		execResult, err = p.deps.Executor.Execute(gctx, block, parent, v, dispatcher)
		executeTimer.UpdateSince(start)
		return err
	})

	var updates *merkle.AccountUpdatesList
	g.Go(func() (err error) {
		updates, err = dispatcher.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if updates.StateTrieHash != block.Root() {
		return fmt.Errorf("%w: got %s want %s", ErrStateRootMismatch, updates.StateTrieHash, block.Root())
	}

	ack := make(chan error, 1)
	select {
	case p.deps.TrieUpdates <- TrieUpdate{
		ParentStateRoot: parent.Root,
		ChildStateRoot:  block.Root(),
		AccountUpdates:  updates.AccountNodes,
		StorageUpdates:  updates.StorageNodes,
		ResultSender:    ack,
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	err = p.deps.Committer.CommitBlock(block, execResult)
	commitTimer.UpdateSince(start)
	return err
}

// newSink picks the merkleization mode spec.md's §4.4 "chosen at block
// execution time" language describes: Mode B's BAL-driven bin-packing
// when the block carries an access list, Mode A's streaming dispatch
// otherwise.
func (p *Pipeline) newSink(bal *BlockAccessList) merkle.Sink {
	if bal == nil {
		return merkle.NewDispatcher(p.deps.DispatchBuffer)
	}
	hints := make([]merkle.AccessHint, 0, len(bal.Addresses))
	for addr, slots := range bal.Addresses {
		hints = append(hints, merkle.AccessHint{
			AccountHash: crypto.Keccak256Hash(addr.Bytes()),
			SlotCount:   len(slots),
		})
	}
	return merkle.NewBinPacker(hints, p.deps.DispatchBuffer)
}

// ProcessBatch runs ProcessBlock over blocks in order, yielding between
// blocks to check ctx for cancellation. On cancellation it returns
// ErrShutdownSignal without starting the next block; no partial commit
// for the block in flight, since ProcessBlock only commits after the full
// trie-update rendezvous succeeds.
func (p *Pipeline) ProcessBatch(ctx context.Context, blocks []*gethtypes.Block, bals []*BlockAccessList) error {
	for i, block := range blocks {
		select {
		case <-ctx.Done():
			return ErrShutdownSignal
		default:
		}
		var bal *BlockAccessList
		if i < len(bals) {
			bal = bals[i]
		}
		if err := p.ProcessBlock(ctx, block, bal); err != nil {
			return err
		}
	}
	return nil
}
