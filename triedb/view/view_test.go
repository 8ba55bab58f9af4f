package view

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/triedb/layer"
)

func hash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func openBackend(t *testing.T) kv.Backend {
	t.Helper()
	b, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestGetPrefersDirtyOverPersisted(t *testing.T) {
	b := openBackend(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	path := make([]byte, 10)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, path, []byte("disk-node")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	c := layer.NewCache(128)
	c, err = c.PutBatch(common.Hash{}, hash(1), layer.NodeSet{string(path): []byte("dirty-node")})
	require.NoError(t, err)

	v := New(c, hash(1), rtx, nil)
	val, found, err := v.Get(path)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("dirty-node"), val)
}

func TestGetTombstoneIsMissingNotBackendFallthrough(t *testing.T) {
	b := openBackend(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	path := make([]byte, 10)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, path, []byte("disk-node")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	c := layer.NewCache(128)
	c, err = c.PutBatch(common.Hash{}, hash(1), layer.NodeSet{string(path): {}})
	require.NoError(t, err)

	v := New(c, hash(1), rtx, nil)
	_, found, err := v.Get(path)
	require.NoError(t, err)
	require.False(t, found)
}

func TestWithAccessLoggerRecordsBothCacheAndBackendHits(t *testing.T) {
	b := openBackend(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	diskPath := make([]byte, 10)
	diskPath[0] = 0x01
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, diskPath, []byte("disk-node")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	cachePath := make([]byte, 10)
	cachePath[0] = 0x02
	c := layer.NewCache(128)
	c, err = c.PutBatch(common.Hash{}, hash(1), layer.NodeSet{string(cachePath): []byte("dirty-node")})
	require.NoError(t, err)

	base := New(c, hash(1), rtx, nil)

	var touched [][]byte
	logged := base.WithAccessLogger(func(path, value []byte) {
		touched = append(touched, append([]byte(nil), path...))
	})

	_, found, err := logged.Get(diskPath)
	require.NoError(t, err)
	require.True(t, found)
	_, found, err = logged.Get(cachePath)
	require.NoError(t, err)
	require.True(t, found)

	require.Len(t, touched, 2)
	require.Contains(t, touched, diskPath)
	require.Contains(t, touched, cachePath)

	// The original View must remain unaffected by the logger attached to
	// its copy: a further Get must not panic or append to touched.
	_, _, err = base.Get(diskPath)
	require.NoError(t, err)
	require.Len(t, touched, 2)
}

func TestGetFallsBackToPersistedWhenNotInLayer(t *testing.T) {
	b := openBackend(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	path := make([]byte, 10)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, path, []byte("disk-node")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	v := New(layer.NewCache(128), hash(1), rtx, nil)
	val, found, err := v.Get(path)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("disk-node"), val)
}

func TestGetLeafRoutesToFlatKVBelowPivot(t *testing.T) {
	b := openBackend(t)

	accountPath := make([]byte, accountLeafLen)
	for i := range accountPath {
		accountPath[i] = 0x01
	}

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.AccountFlatKeyValue, accountPath, []byte("flat-value")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	// Pivot covers this path (lexicographically >=).
	pivot := make([]byte, accountLeafLen)
	for i := range pivot {
		pivot[i] = 0xFE
	}
	v := New(layer.NewCache(128), hash(1), rtx, pivot)
	val, found, err := v.Get(accountPath)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("flat-value"), val)
}

func TestGetLeafRoutesToTrieNodesAbovePivot(t *testing.T) {
	b := openBackend(t)

	accountPath := make([]byte, accountLeafLen)
	for i := range accountPath {
		accountPath[i] = 0xFF
	}

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, accountPath, []byte("trie-leaf")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	pivot := make([]byte, accountLeafLen)
	for i := range pivot {
		pivot[i] = 0x01
	}
	v := New(layer.NewCache(128), hash(1), rtx, pivot)
	val, found, err := v.Get(accountPath)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("trie-leaf"), val)
}

func TestIterTableMergesDirtyAndPersistedInOrder(t *testing.T) {
	b := openBackend(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, []byte("aa1"), []byte("disk-1")))
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, []byte("aa3"), []byte("disk-3")))
	require.NoError(t, wtx.Put(kv.AccountTrieNodes, []byte("aa5"), []byte("disk-5-to-delete")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	c := layer.NewCache(128)
	c, err = c.PutBatch(common.Hash{}, hash(1), layer.NodeSet{
		"aa2": []byte("dirty-2"),
		"aa3": []byte("dirty-3-overrides"),
		"aa5": {},
	})
	require.NoError(t, err)

	v := New(c, hash(1), rtx, nil)
	it, err := v.IterTable(kv.AccountTrieNodes, []byte("aa"))
	require.NoError(t, err)
	defer it.Close()

	var keys, vals []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		vals = append(vals, string(it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"aa1", "aa2", "aa3"}, keys)
	require.Equal(t, []string{"disk-1", "dirty-2", "dirty-3-overrides"}, vals)
}
