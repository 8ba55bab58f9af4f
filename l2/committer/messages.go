package committer

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	l2types "github.com/ethereum-mive/l2exec/core/types"
)

// feeTokenTxType is the L2-originated fee-token transaction type byte
// spec.md's canonical-encoding table assigns; Produce treats it as the
// source of this chain's own L2-in messages, since this repo does not
// model L2-to-L2 messaging to sibling chains.
const feeTokenTxType = 0x7d

// rollingHash folds next into the running accumulator the way a
// privileged/fee-token message stream is chained into a single digest:
// acc' = keccak256(acc ‖ next). The zero hash is the accumulator's
// starting value, so an empty message set leaves it at the zero hash.
func rollingHash(prev, next common.Hash) common.Hash {
	return crypto.Keccak256Hash(prev.Bytes(), next.Bytes())
}

// merkleRoot computes a binary Merkle root over hashes, duplicating the
// final element at each level when the current level has odd length
// (the standard padding rule also used by Ethereum's withdrawal trie).
func merkleRoot(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.Hash{}
	}
	level := append([]common.Hash(nil), hashes...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = crypto.Keccak256Hash(level[2*i].Bytes(), level[2*i+1].Bytes())
		}
		level = next
	}
	return level[0]
}

// extractL1OutMessages scans receipts for logs emitted by messenger,
// hashing each one's topics and data into the outgoing message hash
// Batch.L1OutMessageHashes records, in log order.
func extractL1OutMessages(receipts gethtypes.Receipts, messenger common.Address) []common.Hash {
	var hashes []common.Hash
	for _, receipt := range receipts {
		for _, l := range receipt.Logs {
			if l.Address != messenger {
				continue
			}
			data := make([]byte, 0, len(l.Topics)*common.HashLength+len(l.Data))
			for _, t := range l.Topics {
				data = append(data, t.Bytes()...)
			}
			data = append(data, l.Data...)
			hashes = append(hashes, crypto.Keccak256Hash(data))
		}
	}
	return hashes
}

// feeConfigBytes encodes fc the way the blob bundle's per-block fee-config
// tail does: the two vault addresses back to back. Unlike the batch-level
// ABI, the blob bundle is this repo's own internal artifact, so it doesn't
// need to round-trip through accounts/abi.
func feeConfigBytes(fc FeeConfig) []byte {
	b := make([]byte, 0, common.AddressLength*2)
	b = append(b, fc.BaseFeeVaultAddress.Bytes()...)
	b = append(b, fc.OperatorFeeVaultAddr.Bytes()...)
	return b
}

// buildBlobsBundle assembles the on-chain blob bundle encoding: a u64 BE
// block count, then each block's RLP, then each block's fee-config bytes,
// matching spec.md's §6 layout.
func buildBlobsBundle(blocks []*gethtypes.Block, feeConfigs []FeeConfig) ([]byte, error) {
	var out []byte
	count := make([]byte, 8)
	binary.BigEndian.PutUint64(count, uint64(len(blocks)))
	out = append(out, count...)
	for _, block := range blocks {
		raw, err := rlp.EncodeToBytes(block)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	for _, fc := range feeConfigs {
		out = append(out, feeConfigBytes(fc)...)
	}
	return out, nil
}

// messageBookkeeping is the running state Produce accumulates while
// walking a batch's candidate blocks.
type messageBookkeeping struct {
	nonPrivileged uint64
	l1InRolling   common.Hash
	l2InRolling   common.Hash
	l1OutHashes   []common.Hash
	feeConfigs    []FeeConfig
}

// observeBlock folds one block's transactions and receipts into the
// bookkeeping, classifying each transaction as privileged (L1-in),
// fee-token (L2-in) or ordinary; fee-token and ordinary transactions both
// count toward non_privileged_tx_count.
func (m *messageBookkeeping) observeBlock(block *gethtypes.Block, receipts gethtypes.Receipts, messenger common.Address, fee FeeConfig) {
	for _, tx := range block.Transactions() {
		switch tx.Type() {
		case privilegedTxType:
			m.l1InRolling = rollingHash(m.l1InRolling, tx.Hash())
		case feeTokenTxType:
			m.l2InRolling = rollingHash(m.l2InRolling, tx.Hash())
			m.nonPrivileged++
		default:
			m.nonPrivileged++
		}
	}
	m.l1OutHashes = append(m.l1OutHashes, extractL1OutMessages(receipts, messenger)...)
	m.feeConfigs = append(m.feeConfigs, fee)
}

// finish folds the accumulated bookkeeping into batch's message fields.
func (m *messageBookkeeping) finish(batch *l2types.Batch, chainID *big.Int) {
	batch.NonPrivilegedTransactionCount = m.nonPrivileged
	batch.L1InMessagesRollingHash = m.l1InRolling
	batch.L1OutMessageHashes = m.l1OutHashes
	if chainID != nil {
		batch.L2InMessageRollingHashes = []l2types.L2MessageRollingHash{
			{ChainID: new(big.Int).Set(chainID), RollingHash: m.l2InRolling},
		}
	}
}
