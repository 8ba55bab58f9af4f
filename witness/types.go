package witness

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/params"
)

// ExecutionWitness is everything a stateless replayer needs to reproduce
// the receipts and final state root of a contiguous block range without
// access to the backend: the accessed trie nodes (enough to prove the
// initial state and storage roots), the codes any of the blocks ran, the
// ancestor headers any BLOCKHASH opcode could have referenced, and the
// dedup'd access keys (see Keys for their order).
//
// Grounded on go-ethereum's core/stateless.Witness shape, adapted from its
// embedded-node representation to this repo's (path -> RLP(Node)) view.
type ExecutionWitness struct {
	FirstBlockNumber uint64
	ChainConfig      *params.ChainConfig

	// Headers is every ancestor header a block's re-execution referenced,
	// in descending block-number order, the earliest-referenced ancestor
	// last.
	Headers []*gethtypes.Header

	// Codes holds every contract bytecode the batch's re-execution read,
	// keyed by code hash.
	Codes map[common.Hash][]byte

	// StateNodes holds the encoded account-trie nodes touched while
	// resolving the initial state root, sufficient to prove membership of
	// every account the batch reads or writes.
	StateNodes [][]byte

	// StorageNodes holds, per touched account (keyed by its hashed address,
	// matching the path-only design the rest of this repo's trie layer
	// uses — there is no preimage address available at this layer), the
	// encoded storage-trie nodes touched while resolving that account's
	// initial storage root.
	StorageNodes map[common.Hash][][]byte

	// Keys is the full access list: state keys, then code hashes, each in
	// first-touch order (matching spec.md's dedup-preserving-order
	// requirement), then block-hash references as 8-byte big-endian block
	// numbers in ascending order.
	Keys [][]byte
}

// nodeSet collects distinct encoded trie nodes in first-touch order.
type nodeSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	nodes [][]byte
}

func newNodeSet() *nodeSet {
	return &nodeSet{seen: make(map[string]struct{})}
}

func (s *nodeSet) record(path, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(path)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.nodes = append(s.nodes, append([]byte(nil), value...))
}

func (s *nodeSet) list() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.nodes...)
}

// accessRecorder collects the code hashes and block numbers a block's
// re-execution reports touching, each deduplicated while preserving the
// order they were first seen — spec.md's "dedup slots while preserving
// access order" requirement, generalized to every access kind C9 tracks.
type accessRecorder struct {
	mu sync.Mutex

	codeSeen  map[common.Hash]struct{}
	codeOrder []common.Hash

	blockHashSeen  map[uint64]struct{}
	blockHashOrder []uint64

	stateSeen  map[string]struct{}
	stateOrder [][]byte
}

func newAccessRecorder() *accessRecorder {
	return &accessRecorder{
		codeSeen:      make(map[common.Hash]struct{}),
		blockHashSeen: make(map[uint64]struct{}),
		stateSeen:     make(map[string]struct{}),
	}
}

// RecordCode implements Recorder.
func (r *accessRecorder) RecordCode(hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codeSeen[hash]; ok {
		return
	}
	r.codeSeen[hash] = struct{}{}
	r.codeOrder = append(r.codeOrder, hash)
}

// RecordBlockHash implements Recorder.
func (r *accessRecorder) RecordBlockHash(number uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blockHashSeen[number]; ok {
		return
	}
	r.blockHashSeen[number] = struct{}{}
	r.blockHashOrder = append(r.blockHashOrder, number)
}

// RecordState implements Recorder.
func (r *accessRecorder) RecordState(key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := string(key)
	if _, ok := r.stateSeen[k]; ok {
		return
	}
	r.stateSeen[k] = struct{}{}
	r.stateOrder = append(r.stateOrder, append([]byte(nil), key...))
}

func (r *accessRecorder) earliestBlockHash() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.blockHashOrder) == 0 {
		return 0, false
	}
	min := r.blockHashOrder[0]
	for _, n := range r.blockHashOrder[1:] {
		if n < min {
			min = n
		}
	}
	return min, true
}

func (r *accessRecorder) keys() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := append([][]byte(nil), r.stateOrder...)
	for _, h := range r.codeOrder {
		keys = append(keys, append([]byte(nil), h.Bytes()...))
	}
	numbers := append([]uint64(nil), r.blockHashOrder...)
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for _, n := range numbers {
		b := make([]byte, 8)
		for i := 0; i < 8; i++ {
			b[7-i] = byte(n >> (8 * i))
		}
		keys = append(keys, b)
	}
	return keys
}

func (r *accessRecorder) codes() []common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]common.Hash(nil), r.codeOrder...)
}
