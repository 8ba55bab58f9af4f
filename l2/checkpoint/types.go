package checkpoint

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/kv"
)

// LiveStore is the store facade (C8) this package clones from when
// producing batch 1's checkpoint, since checkpoint_batch_0 never exists
// on disk — batch 0's predecessor state is whatever the live store holds
// at genesis.
type LiveStore interface {
	CreateCheckpoint(dst string) error
}

// ChainSource resolves committed headers and blocks by hash, the
// collaborator regeneration walks backward and forward over. Matches
// store.Store's own HeaderByHash/GetBlock signatures directly, so a real
// wiring never needs an adapter between C8 and this package.
type ChainSource interface {
	HeaderByHash(hash common.Hash) (*gethtypes.Header, bool)
	GetBlock(hash common.Hash) (*gethtypes.Block, error)
}

// BlockApplier re-executes one block against a checkpoint clone's own
// backend and commits the resulting tries into it. A real wiring backs
// this with C5's pipeline pointed at the clone instead of the live store;
// this package never touches the pipeline, layer cache or merkleization
// shards directly, the same way C10 treats the EVM as a black box.
type BlockApplier interface {
	ApplyBlock(ctx context.Context, backend kv.Backend, block *gethtypes.Block, parent *gethtypes.Header) error
}
