package checkpoint

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/kv"
)

// liveStoreStub wraps a real kv.Backend the way store.Store would, only
// exposing the CreateCheckpoint passthrough this package needs.
type liveStoreStub struct {
	backend kv.Backend
}

func (l *liveStoreStub) CreateCheckpoint(dst string) error {
	return l.backend.CreateCheckpoint(dst)
}

type stubChain struct {
	headers map[common.Hash]*gethtypes.Header
	blocks  map[common.Hash]*gethtypes.Block
}

func newStubChain() *stubChain {
	return &stubChain{headers: make(map[common.Hash]*gethtypes.Header), blocks: make(map[common.Hash]*gethtypes.Block)}
}

func (c *stubChain) add(number uint64, parent common.Hash) *gethtypes.Block {
	h := &gethtypes.Header{Number: big.NewInt(int64(number)), ParentHash: parent, Extra: []byte{byte(number)}}
	block := gethtypes.NewBlockWithHeader(h)
	c.headers[block.Hash()] = h
	c.blocks[block.Hash()] = block
	return block
}

func (c *stubChain) HeaderByHash(hash common.Hash) (*gethtypes.Header, bool) {
	h, ok := c.headers[hash]
	return h, ok
}

func (c *stubChain) GetBlock(hash common.Hash) (*gethtypes.Block, error) {
	return c.blocks[hash], nil
}

// recordingApplier records each applied block number and writes the
// block's header root, as 32 raw bytes, into the clone's AccountTrieNodes
// root slot, so every replay leaves a backend write behind without a real
// EVM or merkleizer. rootMatches hashes the bytes in that slot, so these
// raw root bytes do not satisfy it.
type recordingApplier struct {
	applied []uint64
}

func (a *recordingApplier) ApplyBlock(ctx context.Context, backend kv.Backend, block *gethtypes.Block, parent *gethtypes.Header) error {
	a.applied = append(a.applied, block.NumberU64())
	wtx, err := backend.BeginWrite()
	if err != nil {
		return err
	}
	raw := make([]byte, 32)
	copy(raw, block.Root().Bytes())
	if err := wtx.Put(kv.AccountTrieNodes, []byte{}, raw); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// seedStore opens a fresh backend at dir and writes a minimal chain tip
// (ChainData latest block number, canonical hash, header) plus whatever
// root bytes rootBytes carries at the AccountTrieNodes root slot.
func seedStore(t *testing.T, dir string, header *gethtypes.Header, rootBytes []byte) kv.Backend {
	t.Helper()
	backend, err := kv.Open(dir)
	require.NoError(t, err)

	wtx, err := backend.BeginWrite()
	require.NoError(t, err)

	hash := header.Hash()
	headerRLP, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.Headers, hash.Bytes(), headerRLP))

	hashRLP, err := rlp.EncodeToBytes(hash)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.CanonicalBlockHashes, u64BE(header.Number.Uint64()), hashRLP))
	require.NoError(t, wtx.Put(kv.ChainData, []byte{byte(kv.ChainDataLatestBlockNumber)}, u64BE(header.Number.Uint64())))

	if rootBytes != nil {
		require.NoError(t, wtx.Put(kv.AccountTrieNodes, []byte{}, rootBytes))
	}
	require.NoError(t, wtx.Commit())
	return backend
}

func TestCloneForBatchZeroBootstrapsFromLiveStore(t *testing.T) {
	dir := t.TempDir()
	liveDir := filepath.Join(dir, "live")
	genesis := &gethtypes.Header{Number: big.NewInt(0), Root: gethtypes.EmptyRootHash}
	backend := seedStore(t, liveDir, genesis, nil) // empty root slot -> matches EmptyRootHash
	defer backend.Close()

	chain := newStubChain()
	apply := &recordingApplier{}
	m := New(filepath.Join(dir, "checkpoints"), &liveStoreStub{backend: backend}, chain, apply)

	ws, err := m.CloneForBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, apply.applied, "genesis root is already present, no replay needed")

	require.NoError(t, ws.Discard())
}

func TestCloneForBatchMissingCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "checkpoints"), &liveStoreStub{}, newStubChain(), &recordingApplier{})

	_, err := m.CloneForBatch(context.Background(), 5)
	require.ErrorIs(t, err, ErrMissingCheckpoint)
}

func TestCloneForBatchRegeneratesMissingBlocksByReplay(t *testing.T) {
	dir := t.TempDir()
	liveDir := filepath.Join(dir, "live")

	chain := newStubChain()
	genesis := &gethtypes.Header{Number: big.NewInt(0), Root: gethtypes.EmptyRootHash}
	block1 := chain.add(1, genesis.Hash())
	block2 := chain.add(2, block1.Hash())
	chain.headers[genesis.Hash()] = genesis

	// the on-disk tip claims block 2, but the root slot still reflects
	// genesis's empty root: the diff layers for blocks 1 and 2 never
	// flushed before the process that produced this clone source exited.
	backend := seedStore(t, liveDir, block2.Header(), nil)
	defer backend.Close()

	apply := &recordingApplier{}
	m := New(filepath.Join(dir, "checkpoints"), &liveStoreStub{backend: backend}, chain, apply)

	ws, err := m.CloneForBatch(context.Background(), 0)
	require.NoError(t, err)
	defer ws.Discard()

	require.Equal(t, []uint64{1, 2}, apply.applied)
}

func TestCloneForBatchFailsWithUnknownStateInDBWhenAncestryMissing(t *testing.T) {
	dir := t.TempDir()
	liveDir := filepath.Join(dir, "live")

	chain := newStubChain() // block 1's parent (genesis) is never registered
	block1 := &gethtypes.Header{Number: big.NewInt(1), ParentHash: common.Hash{0x01}}

	backend := seedStore(t, liveDir, block1, nil)
	defer backend.Close()

	m := New(filepath.Join(dir, "checkpoints"), &liveStoreStub{backend: backend}, chain, &recordingApplier{})

	_, err := m.CloneForBatch(context.Background(), 0)
	require.ErrorIs(t, err, ErrUnknownStateInDB)
}

func TestPromoteCopiesWorkspaceAndDiscardsTemp(t *testing.T) {
	dir := t.TempDir()
	liveDir := filepath.Join(dir, "live")
	genesis := &gethtypes.Header{Number: big.NewInt(0), Root: gethtypes.EmptyRootHash}
	backend := seedStore(t, liveDir, genesis, nil)
	defer backend.Close()

	chain := newStubChain()
	block1 := chain.add(1, genesis.Hash())
	chain.headers[genesis.Hash()] = genesis

	apply := &recordingApplier{}
	m := New(filepath.Join(dir, "checkpoints"), &liveStoreStub{backend: backend}, chain, apply)

	wsIface, err := m.CloneForBatch(context.Background(), 0)
	require.NoError(t, err)
	ws := wsIface

	root, err := ws.ApplyBlock(context.Background(), block1)
	require.NoError(t, err)
	require.Equal(t, block1.Root(), root)

	require.NoError(t, m.Promote(context.Background(), ws, 1))

	_, statErr := os.Stat(m.checkpointPath(1))
	require.NoError(t, statErr, "checkpoint_batch_1 should now exist")
}
