package store

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/triedb/layer"
)

type stubLayers struct{ cache *layer.Cache }

func (s *stubLayers) LoadLayerCache() *layer.Cache { return s.cache }

type stubPivot struct{ pivot []byte }

func (s *stubPivot) Pivot() []byte { return s.pivot }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), &stubLayers{cache: layer.NewCache(128)}, &stubPivot{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func header(number uint64, parent common.Hash) *gethtypes.Header {
	return &gethtypes.Header{Number: new(big.Int).SetUint64(number), ParentHash: parent}
}

func TestOpenRefusesASecondLock(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, &stubLayers{cache: layer.NewCache(128)}, &stubPivot{})
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(dir, &stubLayers{cache: layer.NewCache(128)}, &stubPivot{})
	require.ErrorIs(t, err, ErrLocked)
}

func TestCommitBlockAndReadBack(t *testing.T) {
	s := openTestStore(t)

	genesis := gethtypes.NewBlockWithHeader(header(0, common.Hash{}))
	require.NoError(t, s.CommitBlock(genesis, &pipeline.ExecutionResult{}))

	got, err := s.GetBlock(genesis.Hash())
	require.NoError(t, err)
	require.Equal(t, genesis.Hash(), got.Hash())

	_, found := s.HeaderByHash(genesis.Hash())
	require.True(t, found)

	_, found = s.HeaderByHash(common.Hash{0xDE, 0xAD})
	require.False(t, found)
}

func TestCommitBlockWithReceiptsAndTransactionLocation(t *testing.T) {
	s := openTestStore(t)

	genesis := gethtypes.NewBlockWithHeader(header(0, common.Hash{}))
	require.NoError(t, s.CommitBlock(genesis, &pipeline.ExecutionResult{}))

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 0, Gas: 21000, Value: big.NewInt(1)})
	h := header(1, genesis.Hash())
	block := gethtypes.NewBlock(h, &gethtypes.Body{Transactions: gethtypes.Transactions{tx}}, nil, nil)

	receipt := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: tx.Hash()}
	require.NoError(t, s.CommitBlock(block, &pipeline.ExecutionResult{Receipts: gethtypes.Receipts{receipt}}))

	receipts, err := s.GetReceipts(block.Hash(), 1)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, tx.Hash(), receipts[0].TxHash)

	// Not canonical yet: no forkchoice update has run, so the lookup must
	// not resolve even though the transaction is committed.
	_, _, _, found, err := s.GetTransactionLocation(tx.Hash())
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.UpdateForkchoice(block.Hash(), common.Hash{}, common.Hash{}))

	number, blockHash, index, found, err := s.GetTransactionLocation(tx.Hash())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), number)
	require.Equal(t, block.Hash(), blockHash)
	require.Equal(t, uint64(0), index)
}

func TestUpdateForkchoiceBuildsCanonicalChain(t *testing.T) {
	s := openTestStore(t)

	genesis := gethtypes.NewBlockWithHeader(header(0, common.Hash{}))
	b1 := gethtypes.NewBlockWithHeader(header(1, genesis.Hash()))
	b2 := gethtypes.NewBlockWithHeader(header(2, b1.Hash()))
	for _, b := range []*gethtypes.Block{genesis, b1, b2} {
		require.NoError(t, s.CommitBlock(b, &pipeline.ExecutionResult{}))
	}

	require.NoError(t, s.UpdateForkchoice(b2.Hash(), b1.Hash(), genesis.Hash()))
	require.Equal(t, b2.Hash(), s.CurrentHeader().Hash())

	got, err := s.GetHeaderByNumber(1)
	require.NoError(t, err)
	require.Equal(t, b1.Hash(), got.Hash())
}

func TestUpdateForkchoiceReorgsAwayStaleCanonicalEntries(t *testing.T) {
	s := openTestStore(t)

	genesis := gethtypes.NewBlockWithHeader(header(0, common.Hash{}))
	a1 := gethtypes.NewBlockWithHeader(header(1, genesis.Hash()))
	a2 := gethtypes.NewBlockWithHeader(header(2, a1.Hash()))
	// A different block at number 1 than a1, so the two chains fork right
	// after genesis; use GasLimit to make its hash differ from a1's.
	b1 := gethtypes.NewBlockWithHeader(&gethtypes.Header{
		Number: big.NewInt(1), ParentHash: genesis.Hash(), GasLimit: 1,
	})
	for _, b := range []*gethtypes.Block{genesis, a1, a2, b1} {
		require.NoError(t, s.CommitBlock(b, &pipeline.ExecutionResult{}))
	}

	require.NoError(t, s.UpdateForkchoice(a2.Hash(), common.Hash{}, common.Hash{}))
	got, err := s.GetHeaderByNumber(2)
	require.NoError(t, err)
	require.Equal(t, a2.Hash(), got.Hash())

	// Reorg onto b1: number 2's canonical entry (a2) must be gone, and
	// number 1 must now point at b1 instead of a1.
	require.NoError(t, s.UpdateForkchoice(b1.Hash(), common.Hash{}, common.Hash{}))
	gotB1, err := s.GetHeaderByNumber(1)
	require.NoError(t, err)
	require.Equal(t, b1.Hash(), gotB1.Hash())

	rtx, err := s.backend.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	val, err := rtx.Get("CanonicalBlockHashes", u64Bytes(2))
	require.NoError(t, err)
	require.Nil(t, val, "stale number-2 canonical entry from the old chain must be deleted")
}

func TestStashAndPromotePendingBlock(t *testing.T) {
	s := openTestStore(t)

	parent := gethtypes.NewBlockWithHeader(header(5, common.Hash{0x09}))
	child := gethtypes.NewBlockWithHeader(header(6, parent.Hash()))

	require.NoError(t, s.StashPending(child))

	ready, err := s.PromoteReady()
	require.NoError(t, err)
	require.Empty(t, ready, "parent still unknown, nothing should promote yet")

	require.NoError(t, s.CommitBlock(parent, &pipeline.ExecutionResult{}))

	ready, err = s.PromoteReady()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, child.Hash(), ready[0].Hash())

	rtx, err := s.backend.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	val, err := rtx.Get("PendingBlocks", child.Hash().Bytes())
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestStoreWitnessPurgesBeyondRetentionWindow(t *testing.T) {
	s := openTestStore(t)

	hash := common.Hash{0x01}
	require.NoError(t, s.StoreWitness(1, hash, []byte("w1")))
	require.NoError(t, s.StoreWitness(200, hash, []byte("w200")))

	got, err := s.GetWitness(1, hash)
	require.NoError(t, err)
	require.Nil(t, got, "witness 1 must have been purged once 200 exceeded the retention window")

	got, err = s.GetWitness(200, hash)
	require.NoError(t, err)
	require.Equal(t, []byte("w200"), got)
}
