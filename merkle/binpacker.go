package merkle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Sink is the interface both merkleization modes present to the execution
// pipeline (C5): Mode A (Dispatcher) streams updates online as execution
// discovers them, with no advance knowledge of which accounts a block
// touches; Mode B (BinPacker) already has that knowledge from the block's
// access list before the first update arrives.
type Sink interface {
	Send(u AccountUpdate)
	Close()
	Run(ctx context.Context) (*AccountUpdatesList, error)
}

var (
	_ Sink = (*Dispatcher)(nil)
	_ Sink = (*BinPacker)(nil)
)

// accountState mirrors the RLP-encoded account leaf shape AccountUpdate's
// MerklizeAccount values carry (see kv.AccountFlatKeyValue's own
// RLP(AccountState) comment), the same field order go-ethereum's own
// state-trie account leaves use.
type accountState struct {
	Nonce    uint64
	Balance  *uint256.Int
	Root     common.Hash
	CodeHash []byte
}

// isEIP161Empty reports whether raw decodes to the EIP-161 "touched but
// empty" account: zero nonce, zero balance, no code. A decode failure is
// treated as non-empty, never as a reason to prune.
func isEIP161Empty(raw []byte) bool {
	var acct accountState
	if err := rlp.DecodeBytes(raw, &acct); err != nil {
		return false
	}
	return acct.Nonce == 0 &&
		(acct.Balance == nil || acct.Balance.IsZero()) &&
		common.BytesToHash(acct.CodeHash) == gethtypes.EmptyCodeHash
}

// AccessHint is one address's declared-slot-count from a block access
// list, keyed by the same hashed address AccountUpdate.AccountHash uses,
// so BinPacker can presize that account's shard bin before any update for
// it arrives.
type AccessHint struct {
	AccountHash common.Hash
	SlotCount   int
}

// BinPacker implements Mode B: access-list-driven merkleization. A block
// access list names, ahead of execution, every address (and so every
// shard, via the address hash's high nibble) and slot a block will touch.
// BinPacker uses that to presize each shard's storage map and per-account
// leaf slices up front rather than growing them update by update the way
// Mode A's Dispatcher must, and prunes EIP-161-empty accounts the moment
// their leaf is inserted instead of carrying tombstones through to a
// later collection pass.
type BinPacker struct {
	chans [ShardCount]chan AccountUpdate
	hints [ShardCount]map[common.Hash]int
}

// NewBinPacker bins hints by shard (the hashed address's high nibble) and
// allocates the sixteen shard queues with the given per-shard buffer size.
func NewBinPacker(hints []AccessHint, bufSize int) *BinPacker {
	p := &BinPacker{}
	for i := range p.chans {
		p.chans[i] = make(chan AccountUpdate, bufSize)
	}
	for i := range p.hints {
		p.hints[i] = make(map[common.Hash]int)
	}
	for _, h := range hints {
		shard := shardIndex(h.AccountHash)
		p.hints[shard][h.AccountHash] = h.SlotCount
	}
	return p
}

func (p *BinPacker) Send(u AccountUpdate) {
	p.chans[shardIndex(u.AccountHash)] <- u
}

func (p *BinPacker) Close() {
	for _, ch := range p.chans {
		close(ch)
	}
}

// Run mirrors Dispatcher.Run's two-phase collection, only presizing each
// shard's accumulator from the bin-packed hints before draining it.
func (p *BinPacker) Run(ctx context.Context) (*AccountUpdatesList, error) {
	states, err := p.drain(ctx)
	if err != nil {
		return nil, err
	}

	storageResults, err := collectStoragesPhase(ctx, states)
	if err != nil {
		return nil, err
	}
	stateResults, err := collectStatePhase(ctx, states)
	if err != nil {
		return nil, err
	}

	var children [ShardCount]*ChildRef
	var childNodes [ShardCount]*Node
	accountNodes := make(map[string][]byte)
	for i, r := range stateResults {
		if r.child != nil {
			children[i] = r.child.Ref()
			childNodes[i] = r.child
		}
		for k, v := range r.nodes {
			accountNodes[k] = v
		}
	}
	root := Collapse(children, nil, childNodes)

	storageNodes := make(map[common.Hash]map[string][]byte)
	for _, sr := range storageResults {
		for acct, res := range sr {
			if len(res.Nodes) == 0 {
				continue
			}
			storageNodes[acct] = res.Nodes
		}
	}

	return &AccountUpdatesList{
		StateTrieHash: nodeRootHash(root),
		AccountNodes:  accountNodes,
		StorageNodes:  storageNodes,
	}, nil
}

func (p *BinPacker) drain(ctx context.Context) ([ShardCount]*shardState, error) {
	var states [ShardCount]*shardState
	type result struct {
		i   int
		err error
	}
	done := make(chan result, ShardCount)
	for i := 0; i < ShardCount; i++ {
		i := i
		go func() {
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = &MerkleizationPanic{Shard: i, Cause: r}
					}
				}()
				st := newShardStateWithHints(p.hints[i])
				for {
					select {
					case <-ctx.Done():
						err = ctx.Err()
						return
					case u, ok := <-p.chans[i]:
						if !ok {
							states[i] = st
							return
						}
						st.applyPruning(u)
					}
				}
			}()
			done <- result{i: i, err: err}
		}()
	}
	for i := 0; i < ShardCount; i++ {
		if r := <-done; r.err != nil {
			return states, r.err
		}
	}
	return states, nil
}
