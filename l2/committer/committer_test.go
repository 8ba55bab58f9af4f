package committer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	l2types "github.com/ethereum-mive/l2exec/core/types"
	l2params "github.com/ethereum-mive/l2exec/params"
)

type stubChain struct {
	mu      sync.Mutex
	headers map[uint64]*gethtypes.Header
	blocks  map[common.Hash]*gethtypes.Block
}

func newStubChain() *stubChain {
	return &stubChain{headers: make(map[uint64]*gethtypes.Header), blocks: make(map[common.Hash]*gethtypes.Block)}
}

func (s *stubChain) addBlock(number uint64, gasUsed uint64) *gethtypes.Block {
	h := &gethtypes.Header{Number: big.NewInt(int64(number)), GasUsed: gasUsed, Extra: []byte{byte(number)}}
	block := gethtypes.NewBlockWithHeader(h)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[number] = h
	s.blocks[block.Hash()] = block
	return block
}

func (s *stubChain) GetHeaderByNumber(number uint64) (*gethtypes.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[number], nil
}

func (s *stubChain) GetBlock(hash common.Hash) (*gethtypes.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[hash], nil
}

func (s *stubChain) GetReceipts(hash common.Hash, txCount int) (gethtypes.Receipts, error) {
	return nil, nil
}

type stubRollupStore struct {
	mu     sync.Mutex
	sealed map[uint64]*l2types.Batch
}

func newStubRollupStore() *stubRollupStore {
	return &stubRollupStore{sealed: make(map[uint64]*l2types.Batch)}
}

func (s *stubRollupStore) SealedBatch(number uint64) (*l2types.Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sealed[number]
	return b, ok, nil
}

func (s *stubRollupStore) StoreSealedBatch(batch *l2types.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[batch.Number] = batch
	return nil
}

func (s *stubRollupStore) FeeConfig(blockNumber uint64) (FeeConfig, error) {
	return FeeConfig{}, nil
}

type stubWorkspace struct {
	applied []uint64
}

func (w *stubWorkspace) ApplyBlock(ctx context.Context, block *gethtypes.Block) (common.Hash, error) {
	w.applied = append(w.applied, block.NumberU64())
	var h common.Hash
	h[31] = byte(block.NumberU64())
	return h, nil
}

func (w *stubWorkspace) Discard() error { return nil }

type stubCheckpoints struct {
	promoted []uint64
}

func (c *stubCheckpoints) CloneForBatch(ctx context.Context, previousBatch uint64) (BatchWorkspace, error) {
	return &stubWorkspace{}, nil
}

func (c *stubCheckpoints) Promote(ctx context.Context, workspace BatchWorkspace, batchNumber uint64) error {
	c.promoted = append(c.promoted, batchNumber)
	return nil
}

type stubL1Client struct {
	mu            sync.Mutex
	lastCommitted uint64
	excessBlobGas uint64
	sentCalldata  [][]byte
	failSendCount int
}

func (c *stubL1Client) LastCommittedBatch(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommitted, nil
}

func (c *stubL1Client) LatestBlockExcessBlobGas(ctx context.Context) (uint64, error) {
	return c.excessBlobGas, nil
}

func (c *stubL1Client) SendCommit(ctx context.Context, calldata []byte, blobs [][]byte, to common.Address) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSendCount > 0 {
		c.failSendCount--
		return common.Hash{}, require.AnError
	}
	c.sentCalldata = append(c.sentCalldata, calldata)
	return common.Hash{0x01}, nil
}

func testDeps(chain *stubChain, rollup *stubRollupStore, l1 *stubL1Client) Dependencies {
	return Dependencies{
		Chain:       chain,
		RollupStore: rollup,
		Checkpoints: &stubCheckpoints{},
		L1:          l1,
		ChainConfig: l2params.MainnetChainConfig,
		Config:      Config{Validium: true, CommitterWakeUpMS: 50},
	}
}

func TestProduceStopsAtGasLimitAndSealsBatch(t *testing.T) {
	chain := newStubChain()
	chain.addBlock(1, 40)
	chain.addBlock(2, 40)
	chain.addBlock(3, 40)
	rollup := newStubRollupStore()

	deps := testDeps(chain, rollup, &stubL1Client{})
	deps.Config.BatchGasLimit = 100
	c := New(deps)

	batch, err := c.Produce(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), batch.FirstBlock)
	require.Equal(t, uint64(2), batch.LastBlock, "the third block's gas would exceed the limit")

	sealed, ok, err := rollup.SealedBatch(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, batch.Number, sealed.Number)
}

func TestProduceReturnsErrNoBlocksWhenNothingToSequence(t *testing.T) {
	chain := newStubChain()
	rollup := newStubRollupStore()
	c := New(testDeps(chain, rollup, &stubL1Client{}))

	_, err := c.Produce(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrNoBlocksToSequence)
}

func TestSendValidiumPacksCalldataAndPersistsTxHash(t *testing.T) {
	chain := newStubChain()
	chain.addBlock(1, 40)
	rollup := newStubRollupStore()
	l1 := &stubL1Client{}
	c := New(testDeps(chain, rollup, l1))

	batch := &l2types.Batch{Number: 1, FirstBlock: 1, LastBlock: 1, StateRoot: common.Hash{0x01}}
	require.NoError(t, rollup.StoreSealedBatch(batch))

	require.NoError(t, c.Send(context.Background(), batch))
	require.Len(t, l1.sentCalldata, 1)

	stored, ok, err := rollup.SealedBatch(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, common.Hash{0x01}, stored.CommitTxHash)
}

func TestPauseResumeStopRendezvous(t *testing.T) {
	chain := newStubChain()
	rollup := newStubRollupStore()
	c := New(testDeps(chain, rollup, &stubL1Client{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Pause()
	require.Eventually(t, func() bool { return c.State() == StatePaused }, time.Second, 5*time.Millisecond)

	c.Resume()
	require.Eventually(t, func() bool { return c.State() == StateSequencing }, time.Second, 5*time.Millisecond)

	c.Stop()
	require.Eventually(t, func() bool { return c.State() == StateStopped }, time.Second, 5*time.Millisecond)
}
