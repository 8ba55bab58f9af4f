package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceDiff is the net balance change one address saw across a batch,
// part of what a Batch commits to L1 so a bridge contract can settle
// withdrawals without replaying every block. Amount uses uint256.Int, the
// same representation state balances carry throughout go-ethereum, rather
// than the untyped big.Int the ABI-encoding layer deals in.
type BalanceDiff struct {
	Address common.Address `json:"address"`
	Amount  *uint256.Int   `json:"amount"`
}

// L2MessageRollingHash is one destination chain's rolling hash over the
// L2-originated ("in") messages a batch processed bound for it. A single
// L2 deployment that only ever bridges back to its own settlement chain
// carries exactly one entry keyed by its own chain ID; a deployment with
// L2-to-L2 messaging to several sibling chains would carry one per
// destination.
type L2MessageRollingHash struct {
	ChainID     *big.Int    `json:"chainId"`
	RollingHash common.Hash `json:"rollingHash"`
}

// Batch is the sequencer's unit of L1 commitment: a contiguous range of L2
// blocks folded into one state-root transition plus the bookkeeping an L1
// contract needs to verify and settle it.
type Batch struct {
	Number     uint64      `json:"number"`
	FirstBlock uint64      `json:"firstBlock"`
	LastBlock  uint64      `json:"lastBlock"`
	StateRoot  common.Hash `json:"stateRoot"`

	// BlobsBundle is the settlement-chain blob encoding: u64 BE block count
	// followed by each included block's RLP and each block's fee-config
	// bytes, per the on-chain blob bundle format. It is retained on the
	// sealed batch so a restart can resend without re-deriving it, distinct
	// from the witness-based prover input Send builds fresh for the EIP-4844
	// blob itself.
	BlobsBundle []byte `json:"blobsBundle"`

	// L1InMessagesRollingHash accumulates, in block order, the hash chain
	// over every privileged (L1-originated) transaction this batch
	// processed: rollingHash(prev, txHash) starting from the zero hash.
	L1InMessagesRollingHash common.Hash `json:"l1InMessagesRollingHash"`

	// L2InMessageRollingHashes is the per-destination-chain analogue of
	// L1InMessagesRollingHash, for L2-originated messages.
	L2InMessageRollingHashes []L2MessageRollingHash `json:"l2InMessageRollingHashes"`

	// L1OutMessageHashes is the ordered, un-merkleized list of outgoing
	// (L2-to-L1) message hashes this batch emitted; the commit calldata's
	// l1_messages_merkle_root is computed from this list at Send time
	// rather than stored redundantly here.
	L1OutMessageHashes []common.Hash `json:"l1OutMessageHashes"`

	// BalanceDiffs is the net per-address balance change across the batch,
	// letting a bridge contract settle withdrawals without replaying blocks.
	BalanceDiffs []BalanceDiff `json:"balanceDiffs"`

	// NonPrivilegedTransactionCount is the count of transactions in the
	// batch that are NOT the privileged (L1-originated) type; this is the
	// count the commit calldata's non_privileged_tx_count field carries.
	NonPrivilegedTransactionCount uint64 `json:"nonPrivilegedTransactionCount"`

	// CommitTxHash is set once Send succeeds; the zero hash means the
	// batch is sealed locally but not yet committed to L1.
	CommitTxHash common.Hash `json:"commitTxHash"`
	// VerifyTxHash is set once the settlement chain's prover has verified
	// the batch and the verification transaction has landed; the zero hash
	// means the batch is committed but not yet verified.
	VerifyTxHash common.Hash `json:"verifyTxHash"`
}

// Checkpoint records the on-disk location and block range a store
// checkpoint (C11) covers, persisted alongside the batch it backs so the
// committer can find checkpoint_batch_{N} without recomputing its path.
type Checkpoint struct {
	BatchNumber uint64      `json:"batchNumber"`
	LastBlock   uint64      `json:"lastBlock"`
	StateRoot   common.Hash `json:"stateRoot"`
}
