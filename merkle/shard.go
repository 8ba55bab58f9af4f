package merkle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// shardState accumulates one shard's share of a block's updates: the
// storage writes for every account whose hash falls in this shard, and the
// account leaves exactly as MerklizeAccount supplied them (the storage
// roots CollectStorages computes are not written back into them).
type shardState struct {
	storage       map[common.Hash][]leaf
	deleted       map[common.Hash]bool
	accountLeaves []leaf
	storageNodes  map[common.Hash]map[string][]byte
}

func newShardState() *shardState {
	return &shardState{
		storage:      make(map[common.Hash][]leaf),
		deleted:      make(map[common.Hash]bool),
		storageNodes: make(map[common.Hash]map[string][]byte),
	}
}

// newShardStateWithHints presizes storage and each hinted account's leaf
// slice from a BAL-derived slot-count hint, the capacity planning Mode B's
// BinPacker performs before draining its shard channel.
func newShardStateWithHints(hints map[common.Hash]int) *shardState {
	s := &shardState{
		storage:      make(map[common.Hash][]leaf, len(hints)),
		deleted:      make(map[common.Hash]bool),
		storageNodes: make(map[common.Hash]map[string][]byte, len(hints)),
	}
	for acct, slots := range hints {
		if slots > 0 {
			s.storage[acct] = make([]leaf, 0, slots)
		}
	}
	return s
}

// applyPruning is Mode B's variant of apply: a MerklizeAccount update whose
// value decodes to an EIP-161-empty account is dropped immediately — no
// account leaf, no storage entry — rather than inserted and swept in a
// later pass.
func (s *shardState) applyPruning(u AccountUpdate) {
	if u.Kind == MerklizeAccount && isEIP161Empty(u.Value) {
		delete(s.storage, u.AccountHash)
		return
	}
	s.apply(u)
}

func nibbles(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = c >> 4
		out[i*2+1] = c & 0x0f
	}
	return out
}

// apply folds one streamed update into the shard's accumulated state.
func (s *shardState) apply(u AccountUpdate) {
	switch u.Kind {
	case LoadAccount:
		if _, ok := s.storage[u.AccountHash]; !ok {
			s.storage[u.AccountHash] = nil
		}
	case Delete:
		s.deleted[u.AccountHash] = true
		delete(s.storage, u.AccountHash)
	case MerklizeStorage:
		s.storage[u.AccountHash] = append(s.storage[u.AccountHash], leaf{
			path:  nibbles(u.KeyHash.Bytes()),
			value: u.Value,
		})
	case MerklizeAccount:
		// The account's hash determines which shard owns its slot in the
		// global account trie; the high nibble is implicit in shard
		// ownership and stripped from the leaf's own path.
		path := nibbles(u.AccountHash.Bytes())
		s.accountLeaves = append(s.accountLeaves, leaf{path: path[1:], value: u.Value})
	}
}

// storageRoot is CollectStorages's per-account result: the account's
// finalized storage sub-trie root plus the node-level deltas to persist.
type storageRoot struct {
	Root  common.Hash
	Nodes map[string][]byte
}

// CollectStorages runs the first collection phase: for every account
// touched in this shard, build its storage sub-trie from the accumulated
// writes (deleted accounts contribute an empty root) and record the
// resulting nodes for C6 to persist.
func (s *shardState) CollectStorages() map[common.Hash]storageRoot {
	out := make(map[common.Hash]storageRoot, len(s.storage))
	for acct, leaves := range s.storage {
		if s.deleted[acct] {
			out[acct] = storageRoot{}
			continue
		}
		nonTombstone := leaves[:0:0]
		for _, l := range leaves {
			if len(l.value) > 0 {
				nonTombstone = append(nonTombstone, l)
			}
		}
		sortLeaves(nonTombstone)
		nodes := make(map[string][]byte)
		root := buildRecording(nonTombstone, nibbles(acct.Bytes()), nodes)
		s.storageNodes[acct] = nodes
		out[acct] = storageRoot{Root: nodeRootHash(root), Nodes: nodes}
	}
	return out
}

// CollectState runs the second collection phase: rehash this shard's slice
// of the account trie from the finalized account leaves, recording node
// deltas into nodes, and returning the branch child that belongs in slot
// `id` of the global root.
func (s *shardState) CollectState(id int, nodes map[string][]byte) *Node {
	sortLeaves(s.accountLeaves)
	return buildRecording(s.accountLeaves, []byte{byte(id)}, nodes)
}

// nodeRootHash hashes a sub-trie root; an empty trie (nil) is the
// RLP-null sentinel 0x80, hashed like any other root node.
func nodeRootHash(n *Node) common.Hash {
	if n == nil {
		return crypto.Keccak256Hash([]byte{0x80})
	}
	return crypto.Keccak256Hash(n.Encode())
}
