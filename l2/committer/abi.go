package committer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	l2types "github.com/ethereum-mive/l2exec/core/types"
)

// commitBatchABIJSON declares the scalar prefix spec.md's §6 field order
// names for both on-chain commitBatch signatures (COMMIT_FUNCTION_SIGNATURE
// and COMMIT_FUNCTION_SIGNATURE_BASED): batch number, new state root,
// outgoing-message Merkle root, the L1-in-messages rolling hash, the last
// included block's hash, the non-privileged transaction count, and the
// git commit hash the prover checks the sequencer's build against.
//
// Simplification: the real contracts additionally take richly-typed
// per-block fee-config and blob-commitment arrays, and the based variant's
// `bytes[]` tail; this repo calldata-encodes only the shared scalar prefix,
// since reproducing the exact nested-tuple variant tail is out of scope for
// exercising accounts/abi itself.
const commitBatchABIJSON = `[{
	"name": "commitBatch",
	"type": "function",
	"inputs": [
		{"name": "batchNumber", "type": "uint256"},
		{"name": "newStateRoot", "type": "bytes32"},
		{"name": "l1MessagesMerkleRoot", "type": "bytes32"},
		{"name": "l1InMessagesRollingHash", "type": "bytes32"},
		{"name": "lastBlockHash", "type": "bytes32"},
		{"name": "nonPrivilegedTxCount", "type": "uint256"},
		{"name": "gitCommitHash", "type": "bytes32"}
	],
	"outputs": []
}]`

var commitBatchABI = mustParseABI(commitBatchABIJSON)

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return parsed
}

// packCommitBatch ABI-encodes the commitBatch calldata for batch. Both the
// rollup and sequencer-registry ("based") variants share this scalar
// prefix; the caller picks the destination address based on
// based/TimelockAddress, and lastBlockHash is the hash of batch's final
// included block (the committer resolves it from the chain since Batch
// itself only tracks the block number).
func packCommitBatch(batch *l2types.Batch, lastBlockHash common.Hash, gitCommitHash common.Hash) ([]byte, error) {
	return commitBatchABI.Pack(
		"commitBatch",
		new(big.Int).SetUint64(batch.Number),
		batch.StateRoot,
		merkleRoot(batch.L1OutMessageHashes),
		batch.L1InMessagesRollingHash,
		lastBlockHash,
		new(big.Int).SetUint64(batch.NonPrivilegedTransactionCount),
		gitCommitHash,
	)
}
