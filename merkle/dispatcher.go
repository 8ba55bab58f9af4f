package merkle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Dispatcher fans a single stream of AccountUpdate messages out across
// sixteen shard queues, one per high nibble of the hashed account address,
// and runs the two-phase collection (storage sub-roots, then account
// sub-tries) once the stream is drained. It implements Mode A: streaming,
// pre-Amsterdam execution with no block access list.
type Dispatcher struct {
	chans [ShardCount]chan AccountUpdate
}

// NewDispatcher allocates the sixteen shard queues with the given
// per-shard buffer size.
func NewDispatcher(bufSize int) *Dispatcher {
	d := &Dispatcher{}
	for i := range d.chans {
		d.chans[i] = make(chan AccountUpdate, bufSize)
	}
	return d
}

// Send routes u to its owning shard. The caller (C5's executor) must not
// call Send concurrently with Close, and must not call Send after Close.
func (d *Dispatcher) Send(u AccountUpdate) {
	d.chans[shardIndex(u.AccountHash)] <- u
}

// Close signals that no further updates will be sent for this block.
func (d *Dispatcher) Close() {
	for _, ch := range d.chans {
		close(ch)
	}
}

// Run drains all sixteen shards concurrently, then performs the two-phase
// collection, and returns the assembled AccountUpdatesList. Any shard
// error or recovered panic aborts the whole run and discards partial
// results — there is no partial AccountUpdatesList.
func (d *Dispatcher) Run(ctx context.Context) (*AccountUpdatesList, error) {
	states, err := d.drain(ctx)
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

func (d *Dispatcher) drain(ctx context.Context) ([ShardCount]*shardState, error) {
	var states [ShardCount]*shardState
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ShardCount; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &MerkleizationPanic{Shard: i, Cause: r}
				}
			}()
			st := newShardState()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case u, ok := <-d.chans[i]:
					if !ok {
						states[i] = st
						return nil
					}
					st.apply(u)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return states, err
	}
	return states, nil
}

type shardStateResult struct {
	child *Node
	nodes map[string][]byte
}

// collectStoragesPhase runs CollectStorages concurrently over all sixteen
// shards — the first collection phase, computing each touched account's
// storage sub-root. Shared by both merkleization modes (Dispatcher and
// BinPacker): the phase only needs the drained per-shard state, not
// anything mode-specific.
func collectStoragesPhase(ctx context.Context, states [ShardCount]*shardState) ([ShardCount]map[common.Hash]storageRoot, error) {
	var results [ShardCount]map[common.Hash]storageRoot
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < ShardCount; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &MerkleizationPanic{Shard: i, Cause: r}
				}
			}()
			results[i] = states[i].CollectStorages()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// collectStatePhase runs CollectState concurrently over all sixteen
// shards — the second collection phase, rehashing each shard's slice of
// the account trie. Shared by both merkleization modes; see
// collectStoragesPhase.
func collectStatePhase(ctx context.Context, states [ShardCount]*shardState) ([ShardCount]shardStateResult, error) {
	var results [ShardCount]shardStateResult
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < ShardCount; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &MerkleizationPanic{Shard: i, Cause: r}
				}
			}()
			nodes := make(map[string][]byte)
			child := states[i].CollectState(i, nodes)
			results[i] = shardStateResult{child: child, nodes: nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
