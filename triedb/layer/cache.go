// Package layer implements the trie layer cache (C2): an append-ordered
// stack of immutable diff layers keyed by parent->child state root,
// published by the background trie worker under an RCU discipline —
// readers hold an *Cache they got from an atomic load and never block a
// concurrent publish.
//
// Grounded on the diskLayer/diffLayer split of pathdb's layer chain: a
// layer only links to its parent's root, never the reverse, so cloning the
// stack to publish a mutation is O(depth) rather than O(chain).
package layer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NodeSet maps a full nibble path (storage paths already carry the 32-byte
// hashed account address prefix) to RLP-encoded node bytes. An empty value
// is a tombstone: the node existed in an ancestor layer and was deleted.
type NodeSet map[string][]byte

// Layer is one immutable diff between two state roots.
type Layer struct {
	ParentRoot common.Hash
	ChildRoot  common.Hash
	Nodes      NodeSet
}

// Cache is an append-ordered, bottom-to-top stack of diff layers. Every
// operation is pure and returns a new Cache; the caller (the background
// trie worker, C6) is responsible for publishing it via atomic pointer
// swap. Cache itself holds no lock — concurrent callers must not share one
// instance across PutBatch/Commit calls without external synchronization,
// which in practice is just the single C6 goroutine that owns the pointer.
type Cache struct {
	layers    []*Layer
	threshold int
}

// NewCache returns an empty stack. threshold is the in-memory layer count
// above which GetCommitable starts returning the bottom layer for eviction.
func NewCache(threshold int) *Cache {
	return &Cache{threshold: threshold}
}

// Len reports the number of layers currently held.
func (c *Cache) Len() int {
	return len(c.layers)
}

func (c *Cache) clone() *Cache {
	layers := make([]*Layer, len(c.layers))
	copy(layers, c.layers)
	return &Cache{layers: layers, threshold: c.threshold}
}

// Top returns the most recently pushed layer, or nil if the stack is empty.
func (c *Cache) Top() *Layer {
	if len(c.layers) == 0 {
		return nil
	}
	return c.layers[len(c.layers)-1]
}

func (c *Cache) bottom() *Layer {
	if len(c.layers) == 0 {
		return nil
	}
	return c.layers[0]
}

// PutBatch pushes a new layer on top of the stack. The push is rejected
// unless the stack is empty or parentRoot equals the current top's child
// root — the stack only ever grows along one active chain at a time, even
// though distinct layers elsewhere may share a parent root across forks.
func (c *Cache) PutBatch(parentRoot, childRoot common.Hash, nodes NodeSet) (*Cache, error) {
	if top := c.Top(); top != nil && parentRoot != top.ChildRoot {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrParentMismatch, parentRoot, top.ChildRoot)
	}
	next := c.clone()
	next.layers = append(next.layers, &Layer{ParentRoot: parentRoot, ChildRoot: childRoot, Nodes: nodes})
	return next, nil
}

// Get searches the chain of layers ending at root for path, walking from
// the layer whose ChildRoot equals root back toward the bottom via
// ParentRoot links. It stops at the first layer that has an entry for path
// at all — present-but-empty is a tombstone, and found reports that case
// too so the caller does not fall through to the backend for a deleted
// node.
func (c *Cache) Get(path []byte, root common.Hash) (value []byte, found bool) {
	key := string(path)
	cur := root
	for i := len(c.layers) - 1; i >= 0; i-- {
		l := c.layers[i]
		if l.ChildRoot != cur {
			continue
		}
		if v, ok := l.Nodes[key]; ok {
			return v, true
		}
		cur = l.ParentRoot
	}
	return nil, false
}

// Overlay returns the merged dirty NodeSet for the chain of layers ending
// at root: every path written by a layer on that chain, with the
// closest-to-root write winning over an ancestor's for the same path.
// Values may be empty (tombstones); callers iterating against a backend
// must skip those paths rather than falling through to persisted data.
// Used by the trie view (C3) to build a merge iterator over the dirty
// overlay plus the persisted backend.
func (c *Cache) Overlay(root common.Hash) NodeSet {
	var chain []*Layer
	cur := root
	for i := len(c.layers) - 1; i >= 0; i-- {
		l := c.layers[i]
		if l.ChildRoot != cur {
			continue
		}
		chain = append(chain, l)
		cur = l.ParentRoot
	}
	merged := make(NodeSet)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Nodes {
			merged[k] = v
		}
	}
	return merged
}

// GetCommitable reports the child root of the bottom layer once the stack
// has grown past threshold and that bottom layer's parent matches the
// backend's current persisted root. It returns ok=false otherwise.
func (c *Cache) GetCommitable(parentRoot common.Hash) (childRoot common.Hash, ok bool) {
	if len(c.layers) <= c.threshold {
		return common.Hash{}, false
	}
	bottom := c.bottom()
	if bottom == nil || bottom.ParentRoot != parentRoot {
		return common.Hash{}, false
	}
	return bottom.ChildRoot, true
}

// Commit removes and returns the bottom layer iff its child root equals
// root, returning the resulting shortened Cache for the caller to publish.
func (c *Cache) Commit(root common.Hash) (next *Cache, evicted *Layer, err error) {
	bottom := c.bottom()
	if bottom == nil {
		return nil, nil, ErrEmptyStack
	}
	if bottom.ChildRoot != root {
		return nil, nil, fmt.Errorf("%w: got %s, want %s", ErrBottomMismatch, bottom.ChildRoot, root)
	}
	next = c.clone()
	next.layers = next.layers[1:]
	return next, bottom, nil
}
