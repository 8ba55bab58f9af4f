package pipeline

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

// BlockAccessList is the declarative set of addresses/slots a block
// declares it will touch (Amsterdam+). A nil BAL means the block carries
// none and the warmer must speculatively re-execute instead of prefetching.
type BlockAccessList struct {
	Addresses map[common.Address][]common.Hash
}

// HeaderSource resolves a parent header by hash; C8's store facade
// implements it in practice.
type HeaderSource interface {
	HeaderByHash(hash common.Hash) (*gethtypes.Header, bool)
}

// HeaderValidator checks header fields against the parent and chain
// config (timestamps, gas bounds, base fee, blob fields). The consensus
// rules themselves are out of scope here; this is the collaborator seam.
type HeaderValidator interface {
	ValidateHeader(header, parent *gethtypes.Header) error
}

// ExecutionResult is everything the executor collaborator hands back once
// a block has run to completion.
type ExecutionResult struct {
	Receipts     gethtypes.Receipts
	Code         map[common.Hash][]byte
	RequestsHash *common.Hash
}

// Executor runs the real block execution. For each transaction it must
// emit AccountUpdate messages to sink, then close sink once done — the
// pipeline does not close it on the executor's behalf, since only the
// executor knows when the last update has been sent. sink is
// merkle.Dispatcher (Mode A) or merkle.BinPacker (Mode B) depending on
// whether the block carries an access list; the executor itself doesn't
// need to know which.
type Executor interface {
	Execute(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, sink merkle.Sink) (*ExecutionResult, error)
}

// Warmer either prefetches every address/slot a BAL declares, or
// speculatively re-executes the block on the cached snapshot and discards
// the results, returning the elapsed duration either way.
type Warmer interface {
	Warm(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, bal *BlockAccessList) (time.Duration, error)
}

// TrieUpdate is the message enqueued to the background trie worker (C6)
// once a block's state root has been validated. ResultSender is a
// one-slot rendezvous: the pipeline blocks on it before committing the
// block's own backend write transaction.
type TrieUpdate struct {
	ParentStateRoot common.Hash
	ChildStateRoot  common.Hash
	AccountUpdates  map[string][]byte
	StorageUpdates  map[common.Hash]map[string][]byte
	ResultSender    chan<- error
}

// BlockCommitter persists block, body, transaction index, receipts, code
// and code metadata in one backend write transaction once C6 has
// acknowledged the trie update. C8 implements it.
type BlockCommitter interface {
	CommitBlock(block *gethtypes.Block, result *ExecutionResult) error
}

// PendingBlockStore stashes a block whose parent is not yet known.
type PendingBlockStore interface {
	StashPending(block *gethtypes.Block) error
}
