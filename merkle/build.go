package merkle

import "sort"

// leaf is one (path, value) pair feeding a shard's sub-trie build. Path is
// the remaining nibble suffix after the shard's own high-nibble prefix has
// been stripped; an empty value is a deletion and must be filtered out by
// the caller before calling build.
type leaf struct {
	path  []byte
	value []byte
}

// build constructs a sub-trie from a sorted, deduplicated slice of leaves
// and returns its root node (nil for an empty slice). It implements the
// standard bottom-up split: a single leaf becomes a Leaf node; multiple
// leaves sharing a nibble prefix become an Extension wrapping a Branch;
// otherwise a Branch partitions leaves by their next nibble and recurses.
// build is a thin wrapper over buildRecording that discards the persisted
// node-bytes map; callers that need it (CollectStorages, CollectState) call
// buildRecording directly.
func build(leaves []leaf) *Node {
	return buildRecording(leaves, nil, nil)
}

// buildRecording builds the sub-trie exactly as build does, additionally
// recording node bytes into nodes keyed by full nibble path: every leaf
// unconditionally (flat-kv and the background trie worker both address a
// leaf by its full path, not by whether the node would embed), and every
// internal node whose encoding meets the 32-byte hash-vs-embed threshold.
// Pass a nil nodes map to skip recording.
func buildRecording(leaves []leaf, path []byte, nodes map[string][]byte) *Node {
	if len(leaves) == 0 {
		return nil
	}
	if len(leaves) == 1 {
		n := &Node{Kind: NodeLeaf, Path: leaves[0].path, Value: leaves[0].value}
		if nodes != nil {
			// A leaf is recorded at its full resolved path regardless of the
			// embed-vs-hash size threshold below: the flat-kv generator and
			// background trie worker address it by that full path directly,
			// independent of whether a byte-for-byte copy would also have
			// been small enough to embed in its parent's RLP.
			full := append(append([]byte{}, path...), leaves[0].path...)
			nodes[string(full)] = n.Encode()
		}
		return n
	}
	var n *Node
	if prefix := commonPrefix(leaves); len(prefix) > 0 {
		stripped := make([]leaf, len(leaves))
		for i, l := range leaves {
			stripped[i] = leaf{path: l.path[len(prefix):], value: l.value}
		}
		child := buildRecording(stripped, append(append([]byte{}, path...), prefix...), nodes)
		n = &Node{Kind: NodeExtension, Path: prefix, Child: child.Ref()}
	} else {
		branch := &Node{Kind: NodeBranch}
		var groups [16][]leaf
		for _, l := range leaves {
			if len(l.path) == 0 {
				branch.Value = l.value
				continue
			}
			nb := l.path[0]
			groups[nb] = append(groups[nb], leaf{path: l.path[1:], value: l.value})
		}
		for i, g := range groups {
			if len(g) == 0 {
				continue
			}
			childPath := append(append([]byte{}, path...), byte(i))
			child := buildRecording(g, childPath, nodes)
			branch.Children[i] = child.Ref()
		}
		n = branch
	}
	if nodes != nil {
		if encoded := n.Encode(); len(encoded) >= 32 {
			nodes[string(path)] = encoded
		}
	}
	return n
}

// commonPrefix returns the longest nibble prefix shared by every leaf. A
// leaf whose whole path is that prefix is left with an empty remaining
// path, and the build below the resulting extension stores its value in
// that branch's value slot.
func commonPrefix(leaves []leaf) []byte {
	shortest := leaves[0].path
	for _, l := range leaves[1:] {
		if len(l.path) < len(shortest) {
			shortest = l.path
		}
	}
	n := len(shortest)
	for i := 0; i < n; i++ {
		b := shortest[i]
		for _, l := range leaves {
			if l.path[i] != b {
				return shortest[:i]
			}
		}
	}
	// A leaf terminating exactly here means the prefix can extend no
	// further without swallowing that leaf's branch-value slot.
	if n > 0 && len(shortest) == n {
		for _, l := range leaves {
			if len(l.path) == n {
				return shortest[:n]
			}
		}
	}
	return shortest[:n]
}

// sortLeaves orders leaves by ascending nibble path, required before build.
func sortLeaves(leaves []leaf) {
	sort.Slice(leaves, func(i, j int) bool {
		a, b := leaves[i].path, leaves[j].path
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
