package store

import (
	"sync"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/prque"

	"github.com/ethereum-mive/l2exec/kv"
)

// futureQueue indexes PENDING_BLOCKS by ascending block number so
// PromoteReady tries the earliest-stashed blocks first, the same priority
// discipline the teacher's blockchain.go applies to triegc (oldest first),
// just keyed by block number instead of trie-GC generation.
type futureQueue struct {
	mu sync.Mutex
	q  *prque.Prque[int64, common.Hash]
}

func newFutureQueue() *futureQueue {
	return &futureQueue{q: prque.New[int64, common.Hash](nil)}
}

func (f *futureQueue) push(number uint64, hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.q.Push(hash, -int64(number))
}

func (f *futureQueue) popAll() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hashes []common.Hash
	for !f.q.Empty() {
		hash, _ := f.q.Pop()
		hashes = append(hashes, hash)
	}
	return hashes
}

// StashPending implements pipeline.PendingBlockStore: a block whose parent
// isn't known yet is persisted so it survives a restart, and indexed so a
// later PromoteReady call can find it again once its parent arrives.
func (s *Store) StashPending(block *gethtypes.Block) error {
	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}
	if err := wtx.Put(kv.PendingBlocks, block.Hash().Bytes(), encodeRLP(block)); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	s.future.push(block.NumberU64(), block.Hash())
	return nil
}

// PromoteReady drains the future-block index and returns every stashed
// block whose parent is now known, removing each from PENDING_BLOCKS.
// Blocks whose parent is still missing are pushed back for the next call.
// Returned blocks are in ascending-number order, matching the order the
// pipeline should re-attempt ProcessBlock in.
func (s *Store) PromoteReady() ([]*gethtypes.Block, error) {
	hashes := s.future.popAll()
	var ready []*gethtypes.Block
	for _, hash := range hashes {
		block, err := s.readPending(hash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue // already promoted or discarded by a concurrent call
		}
		if _, ok := s.HeaderByHash(block.ParentHash()); !ok {
			s.future.push(block.NumberU64(), hash)
			continue
		}
		wtx, err := s.backend.BeginWrite()
		if err != nil {
			return nil, err
		}
		if err := wtx.Delete(kv.PendingBlocks, hash.Bytes()); err != nil {
			wtx.Rollback()
			return nil, err
		}
		if err := wtx.Commit(); err != nil {
			return nil, err
		}
		ready = append(ready, block)
	}
	return ready, nil
}

func (s *Store) readPending(hash common.Hash) (*gethtypes.Block, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.PendingBlocks, hash.Bytes())
	if err != nil || val == nil {
		return nil, err
	}
	block := new(gethtypes.Block)
	if err := decodeRLP(val, block); err != nil {
		return nil, err
	}
	return block, nil
}
