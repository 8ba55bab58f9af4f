package committer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	l2types "github.com/ethereum-mive/l2exec/core/types"
)

// State is the committer's process-wide state machine position.
type State int32

const (
	StateStarting State = iota
	StateSequencing
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateSequencing:
		return "sequencing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RollupStore is the sequencer-local store for sealed batches and fee
// configuration — distinct from C8's Store, which only knows about
// L1-equivalent chain data. A real deployment backs this by its own
// kv.Backend table; tests back it with an in-memory stub.
type RollupStore interface {
	// SealedBatch returns the batch sealed under number, if any.
	SealedBatch(number uint64) (*l2types.Batch, bool, error)
	// StoreSealedBatch persists a newly-produced batch.
	StoreSealedBatch(batch *l2types.Batch) error
	// FeeConfig returns the fee configuration in effect for blockNumber.
	FeeConfig(blockNumber uint64) (FeeConfig, error)
}

// FeeConfig is the per-block fee parameters a produced batch's prover
// input must embed; kept minimal since fee-market modeling is out of this
// component's scope.
type FeeConfig struct {
	BaseFeeVaultAddress  common.Address
	OperatorFeeVaultAddr common.Address
}

// Checkpointer is C11's interface into the committer: producing a batch
// needs a one-time, mutable copy of the state as of the previous batch's
// last block.
type Checkpointer interface {
	// CloneForBatch opens a disposable, writable copy of the checkpoint
	// for the given previously-committed batch number, returning a handle
	// the committer mutates while producing the next batch.
	CloneForBatch(ctx context.Context, previousBatch uint64) (BatchWorkspace, error)
	// Promote replaces checkpoint_batch_{N} with the workspace once its
	// batch has been sealed, and removes the disposable copy.
	Promote(ctx context.Context, workspace BatchWorkspace, batchNumber uint64) error
}

// BatchWorkspace is a disposable, writable checkpoint copy Produce applies
// blocks into while assembling a batch.
type BatchWorkspace interface {
	// ApplyBlock executes (or replays cached updates for) block against
	// the workspace, returning the resulting state root.
	ApplyBlock(ctx context.Context, block *gethtypes.Block) (common.Hash, error)
	// Discard releases the workspace without promoting it.
	Discard() error
}

// L1Client is the settlement-chain collaborator: querying the last
// committed batch and sending the commit transaction. A real deployment
// backs this with an RPC client; it is a black box to this component the
// same way the EVM is a black box to C5's Executor.
type L1Client interface {
	LastCommittedBatch(ctx context.Context) (uint64, error)
	LatestBlockExcessBlobGas(ctx context.Context) (uint64, error)
	SendCommit(ctx context.Context, calldata []byte, blobs [][]byte, to common.Address) (common.Hash, error)
}

// ChainSource resolves committed L2 blocks and receipts, the same way C8
// does for the main store.
type ChainSource interface {
	GetHeaderByNumber(number uint64) (*gethtypes.Header, error)
	GetBlock(hash common.Hash) (*gethtypes.Block, error)
	GetReceipts(hash common.Hash, txCount int) (gethtypes.Receipts, error)
}

// Config bundles the committer's tunables, matching spec.md's named knobs.
type Config struct {
	// OnChainProposerAddress is the L1 contract commitBatch is sent to
	// (the rollup's "on-chain proposer"); TimelockAddress, when set,
	// overrides it as the send target (the rollup timelock variant).
	OnChainProposerAddress common.Address
	TimelockAddress        *common.Address
	// L1MessengerAddress is the contract whose logs mark an L2-to-L1
	// outgoing message; Produce scans each included block's receipts for
	// logs emitted by this address to build Batch.L1OutMessageHashes.
	L1MessengerAddress common.Address
	// GitCommitHash is stamped into the commit calldata's git_commit_hash
	// field so the prover can reject a commit produced by a mismatched
	// build. Set via a build-time ldflags injection in a real deployment.
	GitCommitHash     common.Hash
	Validium          bool
	Based             bool
	CommitterWakeUpMS uint64
	CommitTimeMS      uint64
	BatchGasLimit     uint64
}
