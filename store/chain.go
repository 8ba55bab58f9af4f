package store

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/pipeline"
)

// txLocation is the RLP-encoded value stored under TransactionLocations,
// matching spec.md's key/value shapes.
type txLocation struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Index       uint64
}

// CommitBlock implements pipeline.BlockCommitter: persists the block's
// header, body, receipts, transaction-location index and any newly
// deployed code in one backend write transaction. It does not touch the
// canonical index — that is UpdateForkchoice's job, since a block can be
// committed before (or without ever) becoming canonical.
func (s *Store) CommitBlock(block *gethtypes.Block, result *pipeline.ExecutionResult) error {
	wtx, err := s.backend.BeginWrite()
	if err != nil {
		return err
	}

	hash := block.Hash()
	number := block.NumberU64()

	if err := wtx.Put(kv.Headers, hash.Bytes(), encodeRLP(block.Header())); err != nil {
		wtx.Rollback()
		return err
	}
	body := &gethtypes.Body{Transactions: block.Transactions(), Withdrawals: block.Withdrawals()}
	if err := wtx.Put(kv.Bodies, hash.Bytes(), encodeRLP(body)); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Put(kv.BlockNumbers, hash.Bytes(), u64Bytes(number)); err != nil {
		wtx.Rollback()
		return err
	}

	for i, receipt := range result.Receipts {
		key := encodeRLP(struct {
			BlockHash common.Hash
			Index     uint64
		}{hash, uint64(i)})
		if err := wtx.Put(kv.Receipts, key, encodeRLP(receipt)); err != nil {
			wtx.Rollback()
			return err
		}
	}

	for i, tx := range block.Transactions() {
		loc := txLocation{BlockNumber: number, BlockHash: hash, Index: uint64(i)}
		key := append(append([]byte{}, tx.Hash().Bytes()...), hash.Bytes()...)
		if err := wtx.Put(kv.TransactionLocations, key, encodeRLP(loc)); err != nil {
			wtx.Rollback()
			return err
		}
	}

	for codeHash, code := range result.Code {
		if err := wtx.Put(kv.AccountCodes, codeHash.Bytes(), code); err != nil {
			wtx.Rollback()
			return err
		}
		if err := wtx.Put(kv.AccountCodeMetadata, codeHash.Bytes(), u64Bytes(uint64(len(code)))); err != nil {
			wtx.Rollback()
			return err
		}
	}

	return wtx.Commit()
}

// GetCode returns the bytecode stored under codeHash, or (nil, false) if
// never recorded.
func (s *Store) GetCode(codeHash common.Hash) ([]byte, bool) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		log.Error("store: read code", "hash", codeHash, "err", err)
		return nil, false
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.AccountCodes, codeHash.Bytes())
	if err != nil {
		log.Error("store: read code", "hash", codeHash, "err", err)
		return nil, false
	}
	return val, val != nil
}

// HeaderByHash implements pipeline.HeaderSource.
func (s *Store) HeaderByHash(hash common.Hash) (*gethtypes.Header, bool) {
	header, err := s.readHeader(hash)
	if err != nil {
		log.Error("store: read header", "hash", hash, "err", err)
		return nil, false
	}
	return header, header != nil
}

func (s *Store) readHeader(hash common.Hash) (*gethtypes.Header, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.Headers, hash.Bytes())
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	header := new(gethtypes.Header)
	if err := decodeRLP(val, header); err != nil {
		return nil, err
	}
	return header, nil
}

// GetHeaderByNumber resolves a header via the canonical index.
func (s *Store) GetHeaderByNumber(number uint64) (*gethtypes.Header, error) {
	hash, err := s.readCanonicalHash(number)
	if err != nil || hash == (common.Hash{}) {
		return nil, err
	}
	return s.readHeader(hash)
}

// GetBody returns the stored body for hash, or nil if unknown.
func (s *Store) GetBody(hash common.Hash) (*gethtypes.Body, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	val, err := rtx.Get(kv.Bodies, hash.Bytes())
	if err != nil || val == nil {
		return nil, err
	}
	body := new(gethtypes.Body)
	if err := decodeRLP(val, body); err != nil {
		return nil, err
	}
	return body, nil
}

// GetBlock reassembles a block from its stored header and body.
func (s *Store) GetBlock(hash common.Hash) (*gethtypes.Block, error) {
	header, err := s.readHeader(hash)
	if err != nil || header == nil {
		return nil, err
	}
	body, err := s.GetBody(hash)
	if err != nil || body == nil {
		return nil, err
	}
	return gethtypes.NewBlockWithHeader(header).WithBody(*body), nil
}

// GetReceipts returns every receipt committed for hash, in transaction
// order, or nil if the block (or its receipts) are unknown.
func (s *Store) GetReceipts(hash common.Hash, txCount int) (gethtypes.Receipts, error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	receipts := make(gethtypes.Receipts, 0, txCount)
	for i := 0; i < txCount; i++ {
		key := encodeRLP(struct {
			BlockHash common.Hash
			Index     uint64
		}{hash, uint64(i)})
		val, err := rtx.Get(kv.Receipts, key)
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, nil
		}
		receipt := new(gethtypes.Receipt)
		if err := decodeRLP(val, receipt); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// GetTransactionLocation looks up txHash via the composite
// tx_hash||block_hash key, returning only the location if its block is
// still on the canonical chain (by number), per spec.md's contract.
func (s *Store) GetTransactionLocation(txHash common.Hash) (blockNumber uint64, blockHash common.Hash, index uint64, found bool, err error) {
	rtx, err := s.backend.BeginRead()
	if err != nil {
		return 0, common.Hash{}, 0, false, err
	}
	defer rtx.Discard()

	it, err := rtx.Prefix(kv.TransactionLocations, txHash.Bytes())
	if err != nil {
		return 0, common.Hash{}, 0, false, err
	}
	defer it.Close()

	for it.Next() {
		var loc txLocation
		if err := decodeRLP(it.Value(), &loc); err != nil {
			return 0, common.Hash{}, 0, false, err
		}
		canonical, err := rtx.Get(kv.CanonicalBlockHashes, u64Bytes(loc.BlockNumber))
		if err != nil {
			return 0, common.Hash{}, 0, false, err
		}
		var canonicalHash common.Hash
		if canonical != nil {
			if err := decodeRLP(canonical, &canonicalHash); err != nil {
				return 0, common.Hash{}, 0, false, err
			}
		}
		if canonicalHash == loc.BlockHash {
			return loc.BlockNumber, loc.BlockHash, loc.Index, true, nil
		}
	}
	if err := it.Err(); err != nil {
		return 0, common.Hash{}, 0, false, err
	}
	return 0, common.Hash{}, 0, false, nil
}
