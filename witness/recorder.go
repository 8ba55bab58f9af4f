package witness

import "github.com/ethereum/go-ethereum/common"

// Recorder is handed to a block's re-execution so it can report every
// access a faithful stateless replay would need to know about, beyond the
// trie-node reads view.View already logs on its own: contract codes read,
// ancestor blocks referenced via BLOCKHASH, and individual state slots
// touched (so Keys can list them independent of which trie nodes happened
// to be cached versus read from the backend).
//
// This is a deliberately small seam: the actual EVM interpreter is an
// external collaborator to this repo (see pipeline.Executor), so Recorder
// is how that collaborator reports the witness-relevant side effects of a
// re-execution it otherwise treats as a black box.
type Recorder interface {
	RecordCode(hash common.Hash)
	RecordBlockHash(number uint64)
	RecordState(key []byte)
}
