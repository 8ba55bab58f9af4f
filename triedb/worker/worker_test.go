package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/triedb/layer"
)

type fakePivot struct {
	stopped int
	resumed int
	pivot   []byte
}

func (f *fakePivot) Stop()         { f.stopped++ }
func (f *fakePivot) Continue()     { f.resumed++ }
func (f *fakePivot) Pivot() []byte { return f.pivot }

func openTestBackend(t *testing.T) kv.Backend {
	t.Helper()
	b, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func sendUpdate(t *testing.T, updates chan pipeline.TrieUpdate, u pipeline.TrieUpdate) error {
	t.Helper()
	ack := make(chan error, 1)
	u.ResultSender = ack
	updates <- u
	select {
	case err := <-ack:
		return err
	case <-time.After(time.Second):
		t.Fatal("worker never acknowledged the TrieUpdate")
		return nil
	}
}

func TestApplyPublishesTopLayerBeforePersistence(t *testing.T) {
	updates := make(chan pipeline.TrieUpdate, 1)
	pivot := &fakePivot{}
	w := New(layer.NewCache(8), common.Hash{}, openTestBackend(t), pivot, updates)
	go w.Run(context.Background())

	parent := common.Hash{}
	child := common.Hash{0x01}
	err := sendUpdate(t, updates, pipeline.TrieUpdate{
		ParentStateRoot: parent,
		ChildStateRoot:  child,
		AccountUpdates:  map[string][]byte{string([]byte{0x01, 0x02}): []byte("node")},
	})
	require.NoError(t, err)

	cache := w.LoadLayerCache()
	require.Equal(t, 1, cache.Len())
	val, found := cache.Get([]byte{0x01, 0x02}, child)
	require.True(t, found)
	require.Equal(t, []byte("node"), val)
	require.Equal(t, 0, pivot.stopped, "threshold not yet exceeded, P2 must not run")
}

func TestApplyPersistsPastThresholdAndGatesPivot(t *testing.T) {
	updates := make(chan pipeline.TrieUpdate, 1)
	// A pivot of [0xFF] is the "generator already finished" sentinel: every
	// leaf compares as at-or-behind it, so evicted leaves route straight to
	// the flat-kv tables instead of sitting in AccountTrieNodes awaiting C7.
	pivot := &fakePivot{pivot: []byte{0xFF}}
	backend := openTestBackend(t)
	w := New(layer.NewCache(1), common.Hash{}, backend, pivot, updates)
	go w.Run(context.Background())

	roots := []common.Hash{{0x01}, {0x02}, {0x03}}
	parent := common.Hash{}
	// Use a 64-nibble account leaf path so it routes to AccountFlatKeyValue
	// once it is the evicted bottom layer and the pivot has passed it.
	leafPath := make([]byte, 64)
	for i := range leafPath {
		leafPath[i] = 0x01
	}
	encodedValues := make([][]byte, len(roots))
	for i, root := range roots {
		leaf := &merkle.Node{Kind: merkle.NodeLeaf, Path: []byte{byte(i + 1)}, Value: []byte{byte(i + 1)}}
		encodedValues[i] = leaf.Value
		err := sendUpdate(t, updates, pipeline.TrieUpdate{
			ParentStateRoot: parent,
			ChildStateRoot:  root,
			AccountUpdates:  map[string][]byte{string(leafPath): leaf.Encode()},
		})
		require.NoError(t, err)
		parent = root
	}

	// Threshold 1 evicts the bottom layer every time the stack reaches two
	// entries: round 1 evicts the layer written by the first update (value
	// 0x01), round 2 evicts the layer written by the second (value 0x02).
	// The third update's layer stays in memory, so 0x02 is the last value
	// actually persisted to the backend.
	require.Eventually(t, func() bool {
		return w.PersistedRoot() == common.Hash{0x02}
	}, time.Second, time.Millisecond)
	require.Equal(t, pivot.stopped, pivot.resumed, "every Stop must be paired with a Continue")
	require.GreaterOrEqual(t, pivot.stopped, 2)

	rtx, err := backend.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	val, err := rtx.Get(kv.AccountFlatKeyValue, leafPath)
	require.NoError(t, err)
	require.Equal(t, encodedValues[1], val)
}

func TestApplyRejectsNonChainingParent(t *testing.T) {
	updates := make(chan pipeline.TrieUpdate, 1)
	w := New(layer.NewCache(8), common.Hash{}, openTestBackend(t), &fakePivot{}, updates)
	go w.Run(context.Background())

	require.NoError(t, sendUpdate(t, updates, pipeline.TrieUpdate{
		ParentStateRoot: common.Hash{},
		ChildStateRoot:  common.Hash{0x01},
		AccountUpdates:  map[string][]byte{"x": []byte("y")},
	}))

	err := sendUpdate(t, updates, pipeline.TrieUpdate{
		ParentStateRoot: common.Hash{0xFF},
		ChildStateRoot:  common.Hash{0x02},
		AccountUpdates:  map[string][]byte{"x": []byte("z")},
	})
	require.Error(t, err)
}
