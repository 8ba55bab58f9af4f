package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-mive/l2exec/kv"
)

// maxStoredWitnesses is the retention window spec.md names: once more than
// this many witness records are held, the oldest ones are purged.
const maxStoredWitnesses = 128

func witnessKey(number uint64, hash common.Hash) []byte {
	return append(u64Bytes(number), hash.Bytes()...)
}

// StoreWitness persists an already-serialized execution witness as opaque
// bytes (the store never decodes them, so it needs no knowledge of the
// witness schema) keyed by big_endian(block_number)||block_hash, purging
// every record maxStoredWitnesses or more blocks behind number, so the
// latest maxStoredWitnesses block numbers are kept.
func (s *Store) StoreWitness(number uint64, hash common.Hash, data []byte) error {
	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}
	if err := wtx.Put(kv.ExecutionWitnesses, witnessKey(number, hash), data); err != nil {
		wtx.Rollback()
		return err
	}

	oldest, haveOldest, err := s.readChainDataU64(kv.ChainDataOldestWitnessBlockNumber)
	if err != nil {
		wtx.Rollback()
		return err
	}
	if !haveOldest {
		oldest = number
	}
	if number >= oldest+maxStoredWitnesses {
		newOldest := number - maxStoredWitnesses + 1
		if err := s.purgeWitnessesBelow(wtx, newOldest); err != nil {
			wtx.Rollback()
			return err
		}
		oldest = newOldest
	}
	if err := wtx.Put(kv.ChainData, []byte{byte(kv.ChainDataOldestWitnessBlockNumber)}, u64Bytes(oldest)); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

func (s *Store) purgeWitnessesBelow(wtx kv.WriteTx, newOldest uint64) error {
	it, err := wtx.Prefix(kv.ExecutionWitnesses, nil)
	if err != nil {
		return err
	}
	var stale [][]byte
	for it.Next() {
		k := it.Key()
		if len(k) < 8 || u64FromBytes(k[:8]) >= newOldest {
			break
		}
		stale = append(stale, append([]byte(nil), k...))
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()
	for _, k := range stale {
		if err := wtx.Delete(kv.ExecutionWitnesses, k); err != nil {
			return err
		}
	}
	return nil
}

// GetWitness returns the raw stored witness bytes for (number, hash), or
// nil if none has been recorded (either never produced or already purged).
func (s *Store) GetWitness(number uint64, hash common.Hash) ([]byte, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	return rtx.Get(kv.ExecutionWitnesses, witnessKey(number, hash))
}
