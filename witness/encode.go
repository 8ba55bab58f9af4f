package witness

import (
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// encodedWitness is the RLP-friendly representation of ExecutionWitness:
// RLP has no native map encoding, so Codes and StorageNodes are flattened
// into parallel, key-sorted slices, and ChainConfig travels as its own
// JSON blob rather than an RLP-tagged params.ChainConfig.
type encodedWitness struct {
	FirstBlockNumber uint64
	ChainConfigJSON  []byte
	Headers          []*gethtypes.Header
	CodeHashes       []common.Hash
	Codes            [][]byte
	StorageAccounts  []common.Hash
	StorageNodeSets  [][][]byte
	StateNodes       [][]byte
	Keys             [][]byte
}

// Encode RLP-encodes the witness into the self-sufficient byte form C10
// embeds as prover input in a commit batch's blob.
func (w *ExecutionWitness) Encode() ([]byte, error) {
	cc, err := json.Marshal(w.ChainConfig)
	if err != nil {
		return nil, err
	}

	codeHashes := make([]common.Hash, 0, len(w.Codes))
	for h := range w.Codes {
		codeHashes = append(codeHashes, h)
	}
	sort.Slice(codeHashes, func(i, j int) bool { return codeHashes[i].Cmp(codeHashes[j]) < 0 })
	codes := make([][]byte, len(codeHashes))
	for i, h := range codeHashes {
		codes[i] = w.Codes[h]
	}

	storageAccounts := make([]common.Hash, 0, len(w.StorageNodes))
	for h := range w.StorageNodes {
		storageAccounts = append(storageAccounts, h)
	}
	sort.Slice(storageAccounts, func(i, j int) bool { return storageAccounts[i].Cmp(storageAccounts[j]) < 0 })
	storageSets := make([][][]byte, len(storageAccounts))
	for i, h := range storageAccounts {
		storageSets[i] = w.StorageNodes[h]
	}

	enc := encodedWitness{
		FirstBlockNumber: w.FirstBlockNumber,
		ChainConfigJSON:  cc,
		Headers:          w.Headers,
		CodeHashes:       codeHashes,
		Codes:            codes,
		StorageAccounts:  storageAccounts,
		StorageNodeSets:  storageSets,
		StateNodes:       w.StateNodes,
		Keys:             w.Keys,
	}
	return rlp.EncodeToBytes(&enc)
}
