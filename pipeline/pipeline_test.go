package pipeline

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

type stubHeaders struct {
	byHash map[common.Hash]*gethtypes.Header
}

func (s *stubHeaders) HeaderByHash(hash common.Hash) (*gethtypes.Header, bool) {
	h, ok := s.byHash[hash]
	return h, ok
}

type stubValidator struct{ err error }

func (s *stubValidator) ValidateHeader(header, parent *gethtypes.Header) error { return s.err }

type stubLayers struct{ cache *layer.Cache }

func (s *stubLayers) LoadLayerCache() *layer.Cache { return s.cache }

type stubPivot struct{ pivot []byte }

func (s *stubPivot) Pivot() []byte { return s.pivot }

type stubWarmer struct{ called bool }

func (s *stubWarmer) Warm(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, bal *BlockAccessList) (time.Duration, error) {
	s.called = true
	return time.Millisecond, nil
}

// stubExecutor emits one account update through sink then closes it,
// mimicking the executor's contract of owning sink's lifetime.
type stubExecutor struct {
	acctHash common.Hash
	value    []byte
}

func (s *stubExecutor) Execute(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, sink merkle.Sink) (*ExecutionResult, error) {
	sink.Send(merkle.AccountUpdate{Kind: merkle.MerklizeAccount, AccountHash: s.acctHash, Value: s.value})
	sink.Close()
	return &ExecutionResult{}, nil
}

type stubCommitter struct {
	committed *gethtypes.Block
}

func (s *stubCommitter) CommitBlock(block *gethtypes.Block, result *ExecutionResult) error {
	s.committed = block
	return nil
}

type stubPending struct{ stashed []*gethtypes.Block }

func (s *stubPending) StashPending(block *gethtypes.Block) error {
	s.stashed = append(s.stashed, block)
	return nil
}

func openTestKV(t *testing.T) kv.Backend {
	t.Helper()
	b, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// blockWithRoot builds a minimal header+block whose StateRoot equals root
// and whose ParentHash equals parentHash.
func blockWithRoot(parentHash, root common.Hash, number uint64) *gethtypes.Block {
	h := &gethtypes.Header{
		ParentHash: parentHash,
		Root:       root,
		Number:     new(big.Int).SetUint64(number),
	}
	return gethtypes.NewBlockWithHeader(h)
}

func TestProcessBlockReturnsErrParentNotFoundAndStashes(t *testing.T) {
	pending := &stubPending{}
	p := New(Dependencies{
		Headers:      &stubHeaders{byHash: map[common.Hash]*gethtypes.Header{}},
		Validator:    &stubValidator{},
		Layers:       &stubLayers{cache: layer.NewCache(8)},
		Backend:      openTestKV(t),
		Pivot:        &stubPivot{},
		Warmer:       &stubWarmer{},
		Executor:     &stubExecutor{},
		Committer:    &stubCommitter{},
		PendingStore: pending,
		TrieUpdates:  make(chan TrieUpdate, 1),
	})

	block := blockWithRoot(common.Hash{0xAA}, common.Hash{0xBB}, 1)
	err := p.ProcessBlock(context.Background(), block, nil)
	require.ErrorIs(t, err, ErrParentNotFound)
	require.Len(t, pending.stashed, 1)
}

func TestProcessBlockRendezvousWithTrieWorkerBeforeCommit(t *testing.T) {
	parentHash := common.Hash{0x01}
	parent := &gethtypes.Header{Number: big.NewInt(10)}

	committer := &stubCommitter{}
	updates := make(chan TrieUpdate, 1)
	p := New(Dependencies{
		Headers:      &stubHeaders{byHash: map[common.Hash]*gethtypes.Header{parentHash: parent}},
		Validator:    &stubValidator{},
		Layers:       &stubLayers{cache: layer.NewCache(8)},
		Backend:      openTestKV(t),
		Pivot:        &stubPivot{},
		Warmer:       &stubWarmer{},
		Executor:     &stubExecutor{acctHash: common.Hash{0x30}, value: []byte("account-rlp")},
		Committer:    committer,
		PendingStore: &stubPending{},
		TrieUpdates:  updates,
	})

	// Compute the expected root the dispatcher will produce for a single
	// MerklizeAccount update, so the block header matches it.
	d := merkle.NewDispatcher(1)
	d.Send(merkle.AccountUpdate{Kind: merkle.MerklizeAccount, AccountHash: common.Hash{0x30}, Value: []byte("account-rlp")})
	d.Close()
	list, err := d.Run(context.Background())
	require.NoError(t, err)

	block := blockWithRoot(parentHash, list.StateTrieHash, 11)

	done := make(chan error, 1)
	go func() { done <- p.ProcessBlock(context.Background(), block, nil) }()

	select {
	case u := <-updates:
		require.Equal(t, parent.Root, u.ParentStateRoot)
		require.Equal(t, block.Root(), u.ChildStateRoot)
		u.ResultSender <- nil
	case <-time.After(time.Second):
		t.Fatal("pipeline never sent a TrieUpdate")
	}

	require.NoError(t, <-done)
	require.Equal(t, block, committer.committed)
}

func TestProcessBlockStateRootMismatch(t *testing.T) {
	parentHash := common.Hash{0x02}
	parent := &gethtypes.Header{}

	p := New(Dependencies{
		Headers:      &stubHeaders{byHash: map[common.Hash]*gethtypes.Header{parentHash: parent}},
		Validator:    &stubValidator{},
		Layers:       &stubLayers{cache: layer.NewCache(8)},
		Backend:      openTestKV(t),
		Pivot:        &stubPivot{},
		Warmer:       &stubWarmer{},
		Executor:     &stubExecutor{},
		Committer:    &stubCommitter{},
		PendingStore: &stubPending{},
		TrieUpdates:  make(chan TrieUpdate, 1),
	})

	block := blockWithRoot(parentHash, common.Hash{0xFF}, 1)
	err := p.ProcessBlock(context.Background(), block, nil)
	require.ErrorIs(t, err, ErrStateRootMismatch)
}

func TestProcessBatchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Dependencies{
		Headers:      &stubHeaders{byHash: map[common.Hash]*gethtypes.Header{}},
		Validator:    &stubValidator{},
		Layers:       &stubLayers{cache: layer.NewCache(8)},
		Backend:      openTestKV(t),
		Pivot:        &stubPivot{},
		Warmer:       &stubWarmer{},
		Executor:     &stubExecutor{},
		Committer:    &stubCommitter{},
		PendingStore: &stubPending{},
		TrieUpdates:  make(chan TrieUpdate, 1),
	})

	err := p.ProcessBatch(ctx, []*gethtypes.Block{blockWithRoot(common.Hash{}, common.Hash{}, 1)}, nil)
	require.ErrorIs(t, err, ErrShutdownSignal)
}
