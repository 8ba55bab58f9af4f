// Package merkle implements the merkleization shards (C4): sixteen
// parallel workers, partitioned by the high nibble of a hashed account
// address, that rebuild state/storage sub-tries after block execution.
package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// NodeKind tags the three trie node shapes named in the data model: a
// child ref is either an embedded node or a 32-byte hash, never both.
type NodeKind uint8

const (
	NodeEmpty NodeKind = iota
	NodeLeaf
	NodeExtension
	NodeBranch
)

// ChildRef is either the RLP encoding of a node small enough to embed
// (<32 bytes) or the keccak256 hash of a larger one, matching the
// canonical Merkle-Patricia embedding rule.
type ChildRef struct {
	Embedded []byte
	Hash     common.Hash
}

func (r *ChildRef) isEmpty() bool {
	return r == nil || (len(r.Embedded) == 0 && r.Hash == (common.Hash{}))
}

// refFor wraps encoded node bytes into a ChildRef, embedding it directly
// when short enough or hashing it otherwise.
func refFor(encoded []byte) *ChildRef {
	if len(encoded) == 0 {
		return nil
	}
	if len(encoded) < 32 {
		return &ChildRef{Embedded: encoded}
	}
	return &ChildRef{Hash: crypto.Keccak256Hash(encoded)}
}

// Node is a Branch (16 child refs + optional value), Extension (nibble
// prefix + child) or Leaf (remaining nibbles + value).
type Node struct {
	Kind     NodeKind
	Children [16]*ChildRef // Branch only
	Value    []byte        // Branch (rare in-path value) or Leaf value
	Path     []byte        // nibbles, Extension/Leaf only
	Child    *ChildRef     // Extension only
}

// hexPrefix applies the standard compact nibble encoding: the first byte's
// high nibble flags leaf-vs-extension and odd-vs-even length.
func hexPrefix(path []byte, leaf bool) []byte {
	odd := len(path)%2 == 1
	var flag byte
	if leaf {
		flag = 2
	}
	if odd {
		flag++
	}
	out := make([]byte, 0, len(path)/2+1)
	if odd {
		out = append(out, flag<<4|path[0])
		path = path[1:]
	} else {
		out = append(out, flag<<4)
	}
	for i := 0; i < len(path); i += 2 {
		out = append(out, path[i]<<4|path[i+1])
	}
	return out
}

// rlpList is the structural encoding of a node for hashing/embedding,
// following the canonical [child0..child15, value] / [compactPath, value]
// shapes.
func (n *Node) rlpList() interface{} {
	switch n.Kind {
	case NodeBranch:
		items := make([]interface{}, 17)
		for i, c := range n.Children {
			items[i] = childBytes(c)
		}
		items[16] = n.Value
		return items
	case NodeExtension:
		return []interface{}{hexPrefix(n.Path, false), childBytes(n.Child)}
	case NodeLeaf:
		return []interface{}{hexPrefix(n.Path, true), n.Value}
	default:
		return []byte{}
	}
}

func childBytes(c *ChildRef) []byte {
	if c.isEmpty() {
		return []byte{}
	}
	if len(c.Embedded) > 0 {
		return c.Embedded
	}
	return c.Hash.Bytes()
}

// Encode returns the canonical RLP encoding of n, used both to test the
// embed-vs-hash threshold and as the persisted node_bytes written to the
// trie-node tables.
func (n *Node) Encode() []byte {
	if n == nil || n.Kind == NodeEmpty {
		return []byte{0x80} // RLP encoding of the empty string, the null-trie sentinel
	}
	enc, err := rlp.EncodeToBytes(n.rlpList())
	if err != nil {
		// rlpList only ever produces []byte/[]interface{} of []byte, which
		// rlp.EncodeToBytes cannot fail to encode.
		panic(err)
	}
	return enc
}

// Ref returns n wrapped as a ChildRef of its parent.
func (n *Node) Ref() *ChildRef {
	return refFor(n.Encode())
}

// DecodeLeafValue extracts the value field from the RLP encoding of a leaf
// node — the two-element [compactPath, value] list Encode produces for
// NodeLeaf. The flat-kv generator (C7) and background trie worker (C6) use
// it to materialize a leaf's bare value (the account or storage-slot RLP)
// rather than the trie-node wrapper around it.
func DecodeLeafValue(encoded []byte) ([]byte, error) {
	var parts [][]byte
	if err := rlp.DecodeBytes(encoded, &parts); err != nil {
		return nil, fmt.Errorf("merkle: decode leaf: %w", err)
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("merkle: decode leaf: expected 2 elements, got %d", len(parts))
	}
	return parts[1], nil
}
