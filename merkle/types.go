package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ShardCount is the fixed fan-out: sixteen workers, one per high nibble of
// a hashed account address.
const ShardCount = 16

// UpdateKind tags the four message shapes Mode A streams to shards.
type UpdateKind uint8

const (
	LoadAccount UpdateKind = iota
	Delete
	MerklizeStorage
	MerklizeAccount
)

// AccountUpdate is one streamed unit of work. Which fields are meaningful
// depends on Kind: LoadAccount and Delete only need AccountHash;
// MerklizeStorage needs AccountHash/KeyHash/Value; MerklizeAccount needs
// AccountHash/Value. The shards insert a MerklizeAccount Value as given:
// they do not fold the storage roots CollectStorages computes into it, and
// no shard reads PreMerkleized.
type AccountUpdate struct {
	Kind          UpdateKind
	AccountHash   common.Hash
	KeyHash       common.Hash
	Value         []byte
	PreMerkleized bool
}

// shardIndex returns the destination shard: the high nibble of the hashed
// address.
func shardIndex(h common.Hash) int {
	return int(h[0] >> 4)
}

// AccountUpdatesList is C4's final output, handed back to the execution
// pipeline (C5) to forward to the background trie worker (C6).
type AccountUpdatesList struct {
	StateTrieHash  common.Hash
	AccountNodes   map[string][]byte
	StorageNodes   map[common.Hash]map[string][]byte
	CodeUpdates    map[common.Hash][]byte
	AccumulatedSet map[common.Hash][]byte // for witness precomputation, optional
}

// MerkleizationPanic wraps a worker panic recovered by the dispatcher; per
// spec, any worker failure discards partial results rather than returning
// a partial AccountUpdatesList.
type MerkleizationPanic struct {
	Shard int
	Cause any
}

func (e *MerkleizationPanic) Error() string {
	return fmt.Sprintf("merkle: shard %d panicked: %v", e.Shard, e.Cause)
}
