// Package store implements the committer's (C10) sequencer-local store:
// sealed batches and the fee-configuration history, distinct from C8's
// chain-data Store. Grounded on C8's own store.go table-keyed persistence
// idiom (u64 BE keys, one backend write transaction per call), backed by
// the same kv.Backend rather than a second storage engine.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	l2types "github.com/ethereum-mive/l2exec/core/types"
	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/l2/committer"
)

// RollupStore implements committer.RollupStore over a shared kv.Backend.
type RollupStore struct {
	backend kv.Backend
}

func New(backend kv.Backend) *RollupStore {
	return &RollupStore{backend: backend}
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// SealedBatch returns the batch sealed under number, if any.
func (s *RollupStore) SealedBatch(number uint64) (*l2types.Batch, bool, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, false, err
	}
	defer rtx.Discard()

	raw, err := rtx.Get(kv.SealedBatches, u64Bytes(number))
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var batch l2types.Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, false, fmt.Errorf("l2store: decode sealed batch %d: %w", number, err)
	}
	return &batch, true, nil
}

// StoreSealedBatch persists a newly-produced batch.
func (s *RollupStore) StoreSealedBatch(batch *l2types.Batch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("l2store: encode sealed batch %d: %w", batch.Number, err)
	}
	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}
	if err := wtx.Put(kv.SealedBatches, u64Bytes(batch.Number), raw); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// PutFeeConfig records fee parameters taking effect from activationBlock
// onward, until a later activation block supersedes it.
func (s *RollupStore) PutFeeConfig(activationBlock uint64, cfg committer.FeeConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("l2store: encode fee config at %d: %w", activationBlock, err)
	}
	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}
	if err := wtx.Put(kv.FeeConfigs, u64Bytes(activationBlock), raw); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// FeeConfig returns the fee configuration in effect for blockNumber: the
// entry with the greatest activation block not exceeding it. The table is
// small (it only grows on a fee-parameter change), so a full forward scan
// tracking the best candidate is simpler than maintaining a reverse index.
func (s *RollupStore) FeeConfig(blockNumber uint64) (committer.FeeConfig, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return committer.FeeConfig{}, err
	}
	defer rtx.Discard()

	it, err := rtx.Prefix(kv.FeeConfigs, nil)
	if err != nil {
		return committer.FeeConfig{}, err
	}
	defer it.Close()

	var (
		best    committer.FeeConfig
		found   bool
		bestKey uint64
	)
	for it.Next() {
		key := binary.BigEndian.Uint64(it.Key())
		if key > blockNumber {
			continue
		}
		if found && key <= bestKey {
			continue
		}
		var cfg committer.FeeConfig
		if err := json.Unmarshal(it.Value(), &cfg); err != nil {
			return committer.FeeConfig{}, fmt.Errorf("l2store: decode fee config at %d: %w", key, err)
		}
		best, bestKey, found = cfg, key, true
	}
	if err := it.Err(); err != nil {
		return committer.FeeConfig{}, err
	}
	if !found {
		return committer.FeeConfig{}, fmt.Errorf("l2store: no fee config active at or before block %d", blockNumber)
	}
	return best, nil
}
