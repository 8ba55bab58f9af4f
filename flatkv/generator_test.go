package flatkv

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
)

func openTestBackend(t *testing.T) kv.Backend {
	t.Helper()
	b, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func repeatByte(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestGeneratorMaterializesAccountAndStorageLeaves(t *testing.T) {
	backend := openTestBackend(t)

	accountPath := repeatByte(0x01, 64)
	storagePath := append(append([]byte(nil), accountPath...), repeatByte(0x02, 64)...)

	acctLeaf := &merkle.Node{Kind: merkle.NodeLeaf, Path: []byte{0x0a}, Value: []byte("account-state-rlp")}
	storageLeaf := &merkle.Node{Kind: merkle.NodeLeaf, Path: []byte{0x0b}, Value: []byte("storage-slot-rlp")}

	wtx, err := backend.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, accountPath, acctLeaf.Encode()))
	require.NoError(t, wtx.Put(kv.StorageTrieNodes, storagePath, storageLeaf.Encode()))
	require.NoError(t, wtx.Commit())

	gen, err := New(backend, 0)
	require.NoError(t, err)
	require.Equal(t, StateIdle, gen.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gen.Run(ctx)
	gen.Continue()

	require.Eventually(t, func() bool { return gen.State() == StateDone }, time.Second, time.Millisecond)
	require.True(t, bytes.Equal(gen.Pivot(), sentinelPivot))

	rtx, err := backend.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	gotAccount, err := rtx.Get(kv.AccountFlatKeyValue, accountPath)
	require.NoError(t, err)
	require.Equal(t, acctLeaf.Value, gotAccount)

	gotStorage, err := rtx.Get(kv.StorageFlatKeyValue, storagePath)
	require.NoError(t, err)
	require.Equal(t, storageLeaf.Value, gotStorage)

	cursor, err := rtx.Get(kv.SnapState, cursorKey)
	require.NoError(t, err)
	require.Equal(t, sentinelPivot, cursor)
}

func TestGeneratorResumesFromPersistedCursor(t *testing.T) {
	backend := openTestBackend(t)
	wtx, err := backend.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.SnapState, cursorKey, sentinelPivot))
	require.NoError(t, wtx.Commit())

	gen, err := New(backend, 0)
	require.NoError(t, err)
	require.Equal(t, StateDone, gen.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gen.Run(ctx)
	// Run must observe Done immediately and return without ever touching
	// the control channel; Stop should still rendezvous rather than hang.
	gen.Stop()
}

func TestGeneratorStopRendezvousWithoutHavingStarted(t *testing.T) {
	gen, err := New(openTestBackend(t), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gen.Run(ctx)

	done := make(chan struct{})
	go func() {
		gen.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop never rendezvoused with an idle generator")
	}
	require.Equal(t, StatePaused, gen.State())
}

func TestGeneratorRunExitsOnCancellation(t *testing.T) {
	gen, err := New(openTestBackend(t), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(runDone)
	}()
	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after context cancellation")
	}
}
