// Package view implements the trie view (C3): a per-query composition of
// the layer cache (C2), the flat-kv tables, and the persisted trie-node
// tables into a single node source. Reads never recompute the trie root;
// callers that need the canonical root call HashNoCommit explicitly.
package view

import (
	"bytes"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/triedb/layer"
)

// accountLeafLen and storageLeafLen are the full nibble-path lengths C4
// records a leaf node at: 64 nibbles for a hashed account address, and a
// hashed account address followed by a hashed storage key for a storage
// slot. The background trie worker (C6) and flat-kv generator (C7) use the
// same lengths to recognize leaves eligible for flat-kv materialization.
const (
	accountLeafLen = 64
	storageLeafLen = 128
	accountPathCap = 64
)

// View composes a snapshot of the layer cache with a backend read
// transaction. It is immutable once constructed: reading against a moved
// flat-kv pivot takes a fresh View. Nothing in this package signals that
// the pivot has moved.
type View struct {
	cache *layer.Cache
	root  common.Hash
	rtx   kv.ReadTx
	// pivot is the flat-kv generator's cursor: nil means nothing has been
	// materialized yet, []byte{0xFF} means generation is complete, any
	// other value is the last path fully written.
	pivot []byte
	// onAccess, when non-nil, is called with every (path, value) pair a
	// successful Get resolves, persisted-backend or layer-cache alike. The
	// witness builder (C9) uses this to record the node set a re-execution
	// touches without needing its own trie-reading code path.
	onAccess func(path, value []byte)
}

// New builds a View over cache at root, backed by rtx for persisted data
// not present in the dirty overlay, using pivot as the flat-kv cursor.
func New(cache *layer.Cache, root common.Hash, rtx kv.ReadTx, pivot []byte) *View {
	return &View{cache: cache, root: root, rtx: rtx, pivot: pivot}
}

// WithAccessLogger returns a shallow copy of v that additionally reports
// every node or flat-leaf value it resolves to onAccess. The copy shares
// the underlying cache and read transaction; it exists only to scope the
// logging to a specific caller (e.g. one block's re-execution) without
// affecting others reading through the same View.
func (v *View) WithAccessLogger(onAccess func(path, value []byte)) *View {
	cp := *v
	cp.onAccess = onAccess
	return &cp
}

func isStoragePath(path []byte) bool {
	return len(path) > accountPathCap
}

func isLeafPath(path []byte) bool {
	if isStoragePath(path) {
		return len(path) == storageLeafLen
	}
	return len(path) == accountLeafLen
}

func belowPivot(path, pivot []byte) bool {
	if pivot == nil {
		return false
	}
	if len(pivot) == 1 && pivot[0] == 0xFF {
		return true
	}
	return bytes.Compare(path, pivot) <= 0
}

// RouteNode picks the backend table and key a persisted path belongs to:
// the flat-kv table when the path is a leaf the generator has already
// passed, the trie-node table otherwise. Shared by View's own reads and by
// the background trie worker's persistence writes (C6), which must agree
// on the exact same routing so a leaf is never written to both places.
func RouteNode(path, pivot []byte) (table string, key []byte) {
	storage := isStoragePath(path)
	leaf := isLeafPath(path)
	switch {
	case leaf && belowPivot(path, pivot) && storage:
		return kv.StorageFlatKeyValue, path
	case leaf && belowPivot(path, pivot):
		return kv.AccountFlatKeyValue, path
	case storage:
		return kv.StorageTrieNodes, path
	default:
		return kv.AccountTrieNodes, path
	}
}

// IsLeafPath reports whether path names a leaf's flat-kv coordinate rather
// than an internal trie node.
func IsLeafPath(path []byte) bool { return isLeafPath(path) }

// IsStoragePath reports whether path belongs to a storage sub-trie (a
// hashed account address followed by further nibbles) rather than the
// account trie itself.
func IsStoragePath(path []byte) bool { return isStoragePath(path) }

// AccountPathLen is the nibble-path length of a full hashed account
// address — the prefix every storage path under that account shares.
const AccountPathLen = accountPathCap

// backendLocation picks the table an on-disk path belongs to: the flat-kv
// table when the path is a leaf the generator has already passed, the
// trie-node table otherwise.
func (v *View) backendLocation(path []byte) (table string, key []byte) {
	return RouteNode(path, v.pivot)
}

// Get returns the decoded node (or flat leaf) bytes at path. A tombstone in
// the layer cache resolves to found=false, exactly as if the path had never
// existed, rather than falling through to the backend.
func (v *View) Get(path []byte) (value []byte, found bool, err error) {
	if val, ok := v.cache.Get(path, v.root); ok {
		if len(val) == 0 {
			return nil, false, nil
		}
		if v.onAccess != nil {
			v.onAccess(path, val)
		}
		return val, true, nil
	}
	table, key := v.backendLocation(path)
	val, err := v.rtx.Get(table, key)
	if err != nil {
		return nil, false, err
	}
	if val == nil {
		return nil, false, nil
	}
	if v.onAccess != nil {
		v.onAccess(path, val)
	}
	return val, true, nil
}

// HashNoCommit returns the keccak256 of the node bytes at path, recomputing
// it on demand rather than trusting a cached hash. Callers needing the
// canonical trie root pass the root's own path (empty for the account trie,
// the account's hashed address for a storage trie).
func (v *View) HashNoCommit(path []byte) (common.Hash, error) {
	val, found, err := v.Get(path)
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		return common.Hash{}, nil
	}
	return crypto.Keccak256Hash(val), nil
}

// IterTable opens an ascending (path, value) iterator over table restricted
// to prefix, merging the dirty layer-cache overlay over the persisted
// backend. The iterator is a point-in-time view: it does not observe writes
// committed after it was opened, and it does not detect a moving flat-kv
// pivot; nothing signals a pivot change to it.
func (v *View) IterTable(table string, prefix []byte) (*Iterator, error) {
	backend, err := v.rtx.Prefix(table, prefix)
	if err != nil {
		return nil, err
	}
	overlay := v.cache.Overlay(v.root)
	var dirty []kv.KV
	for k, val := range overlay {
		if strings.HasPrefix(k, string(prefix)) {
			dirty = append(dirty, kv.KV{Key: []byte(k), Value: val})
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return bytes.Compare(dirty[i].Key, dirty[j].Key) < 0 })
	it := &Iterator{backend: backend, dirty: dirty}
	it.advanceBackend()
	return it, nil
}
