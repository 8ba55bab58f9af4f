package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) Backend {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestWriteThenReadSnapshot(t *testing.T) {
	b := openTestBackend(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(Headers, []byte("h1"), []byte("header-one")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	v, err := rtx.Get(Headers, []byte("h1"))
	require.NoError(t, err)
	require.Equal(t, []byte("header-one"), v)
}

func TestReadSnapshotIsolatedFromLaterWrites(t *testing.T) {
	b := openTestBackend(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MiscValues, []byte("k"), []byte("v1")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	wtx2, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx2.Put(MiscValues, []byte("k"), []byte("v2")))
	require.NoError(t, wtx2.Commit())

	v, err := rtx.Get(MiscValues, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v, "snapshot must not observe a write committed after it began")
}

func TestPrefixIterationSortedAndBounded(t *testing.T) {
	b := openTestBackend(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(AccountFlatKeyValue, []byte("aa01"), []byte("1")))
	require.NoError(t, wtx.Put(AccountFlatKeyValue, []byte("aa03"), []byte("3")))
	require.NoError(t, wtx.Put(AccountFlatKeyValue, []byte("aa02"), []byte("2")))
	require.NoError(t, wtx.Put(AccountFlatKeyValue, []byte("bb01"), []byte("outside the aa prefix")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	it, err := rtx.Prefix(AccountFlatKeyValue, []byte("aa"))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestClearTable(t *testing.T) {
	b := openTestBackend(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(PendingBlocks, []byte("x"), []byte("y")))
	require.NoError(t, wtx.Commit())

	require.NoError(t, b.ClearTable(PendingBlocks))

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	v, err := rtx.Get(PendingBlocks, []byte("x"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestCreateCheckpointIsIndependent(t *testing.T) {
	b := openTestBackend(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(ChainData, []byte{byte(ChainDataLatestBlockNumber)}, []byte{1}))
	require.NoError(t, wtx.Commit())

	dst := t.TempDir() + "/checkpoint"
	require.NoError(t, b.CreateCheckpoint(dst))

	cp, err := Open(dst)
	require.NoError(t, err)
	defer cp.Close()

	rtx, err := cp.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	v, err := rtx.Get(ChainData, []byte{byte(ChainDataLatestBlockNumber)})
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)

	// Mutating the source after the checkpoint must not affect the copy.
	wtx2, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx2.Put(ChainData, []byte{byte(ChainDataLatestBlockNumber)}, []byte{2}))
	require.NoError(t, wtx2.Commit())

	v, err = rtx.Get(ChainData, []byte{byte(ChainDataLatestBlockNumber)})
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)
}
