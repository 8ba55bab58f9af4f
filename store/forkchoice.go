package store

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/kv"
)

// UpdateForkchoice performs the two-step update spec.md requires to avoid
// ever observing an inconsistent "latest": (1) publish the new head to the
// atomically-swapped header cache immediately, then (2) within one write
// transaction, walk back from the new head to the highest already-
// canonical ancestor, delete any stale canonical entries above it, insert
// the new segment, and update the three ChainData block-number markers.
func (s *Store) UpdateForkchoice(headHash, safeHash, finalizedHash common.Hash) error {
	headHeader, err := s.readHeader(headHash)
	if err != nil {
		return err
	}
	if headHeader == nil {
		return ErrNotFound
	}
	headNumber := headHeader.Number.Uint64()

	// Step 1.
	s.currentHeader.Store(headHeader)

	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}

	oldNumber, haveOld, err := s.readChainDataU64(kv.ChainDataLatestBlockNumber)
	if err != nil {
		wtx.Rollback()
		return err
	}

	type link struct {
		number uint64
		hash   common.Hash
	}
	var segment []link
	ancestorNumber := int64(-1)
	cur, curHash := headHeader, headHash
	for {
		segment = append(segment, link{cur.Number.Uint64(), curHash})
		if cur.Number.Uint64() == 0 {
			break
		}
		existing, err := wtx.Get(kv.CanonicalBlockHashes, u64Bytes(cur.Number.Uint64()-1))
		if err != nil {
			wtx.Rollback()
			return err
		}
		var existingHash common.Hash
		if existing != nil {
			if err := decodeRLP(existing, &existingHash); err != nil {
				wtx.Rollback()
				return err
			}
		}
		if existingHash == cur.ParentHash {
			ancestorNumber = int64(cur.Number.Uint64()) - 1
			break
		}
		parent, err := s.headerFrom(wtx, cur.ParentHash)
		if err != nil {
			wtx.Rollback()
			return err
		}
		if parent == nil {
			wtx.Rollback()
			return fmt.Errorf("store: forkchoice: missing ancestor header %s", cur.ParentHash)
		}
		curHash, cur = cur.ParentHash, parent
	}

	if haveOld {
		for n := uint64(ancestorNumber + 1); n <= oldNumber; n++ {
			if err := wtx.Delete(kv.CanonicalBlockHashes, u64Bytes(n)); err != nil {
				wtx.Rollback()
				return err
			}
		}
	}
	for _, l := range segment {
		if int64(l.number) <= ancestorNumber {
			continue
		}
		if err := wtx.Put(kv.CanonicalBlockHashes, u64Bytes(l.number), encodeRLP(l.hash)); err != nil {
			wtx.Rollback()
			return err
		}
	}

	if err := wtx.Put(kv.ChainData, []byte{byte(kv.ChainDataLatestBlockNumber)}, u64Bytes(headNumber)); err != nil {
		wtx.Rollback()
		return err
	}
	for idx, hash := range map[kv.ChainDataIndex]common.Hash{
		kv.ChainDataSafeBlockNumber:      safeHash,
		kv.ChainDataFinalizedBlockNumber: finalizedHash,
	} {
		header, err := s.headerFrom(wtx, hash)
		if err != nil {
			wtx.Rollback()
			return err
		}
		if header == nil {
			continue
		}
		if err := wtx.Put(kv.ChainData, []byte{byte(idx)}, u64Bytes(header.Number.Uint64())); err != nil {
			wtx.Rollback()
			return err
		}
	}

	return wtx.Commit()
}

// headerFrom reads a header through r (a ReadTx or WriteTx, both satisfy
// kv.Reader), returning nil without error for the zero hash or an unknown
// header.
func (s *Store) headerFrom(r kv.Reader, hash common.Hash) (*gethtypes.Header, error) {
	if hash == (common.Hash{}) {
		return nil, nil
	}
	val, err := r.Get(kv.Headers, hash.Bytes())
	if err != nil || val == nil {
		return nil, err
	}
	header := new(gethtypes.Header)
	if err := decodeRLP(val, header); err != nil {
		return nil, err
	}
	return header, nil
}
