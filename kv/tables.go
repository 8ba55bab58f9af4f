// Package kv implements the tabled key-value backend (C1): a thin layer over
// an embedded storage engine that exposes named tables, read snapshots,
// batched write transactions and prefix iteration, following the table
// registry idiom of erigon's erigon-lib/kv/tables.go.
package kv

// Table names are prefixed onto every key by the Backend so that a single
// pebble/leveldb keyspace can emulate multiple logical tables. Comments
// describe the key and value shapes this package's callers write.
const (
	// Headers: block_hash (32) -> RLP(Header)
	Headers = "Headers"
	// Bodies: block_hash (32) -> RLP(Body)
	Bodies = "Bodies"
	// BlockNumbers: block_hash (32) -> u64 BE
	BlockNumbers = "BlockNumbers"
	// CanonicalBlockHashes: block_number u64 BE -> RLP(H256)
	CanonicalBlockHashes = "CanonicalBlockHashes"
	// TransactionLocations: tx_hash || block_hash (64) -> RLP((u64,H256,u64))
	TransactionLocations = "TransactionLocations"
	// Receipts: RLP((block_hash, index)) -> RLP(Receipt)
	Receipts = "Receipts"
	// AccountCodes: code_hash (32) -> raw bytecode (no RLP framing, no jump targets)
	AccountCodes = "AccountCodes"
	// AccountCodeMetadata: code_hash (32) -> u64 BE (length)
	AccountCodeMetadata = "AccountCodeMetadata"
	// AccountTrieNodes: nibble path, one nibble per byte, not packed (<=64 bytes) -> RLP(Node)
	AccountTrieNodes = "AccountTrieNodes"
	// StorageTrieNodes: hashed_address as 64 nibbles || nibble path, one nibble per byte -> RLP(Node)
	StorageTrieNodes = "StorageTrieNodes"
	// AccountFlatKeyValue: hashed_address nibbles -> RLP(AccountState)
	AccountFlatKeyValue = "AccountFlatKeyValue"
	// StorageFlatKeyValue: hashed_address || hashed_key nibbles -> RLP(U256)
	StorageFlatKeyValue = "StorageFlatKeyValue"
	// ChainData: ChainDataIndex(u8) -> scalar/bytes
	ChainData = "ChainData"
	// PendingBlocks: block_hash (32) -> RLP(Block), blocks awaiting a parent
	PendingBlocks = "PendingBlocks"
	// InvalidChains: block_hash (32) -> reason bytes
	InvalidChains = "InvalidChains"
	// SnapState: MISC state for the flat-kv generator and layer cache bookkeeping
	SnapState = "SnapState"
	// MiscValues: string key -> bytes, e.g. "last_written"
	MiscValues = "MiscValues"
	// ExecutionWitnesses: block_number u64 BE || block_hash (32) -> JSON(RpcExecutionWitness)
	ExecutionWitnesses = "ExecutionWitnesses"
	// FullSyncHeaders: block_number u64 BE -> RLP(Header), used during full resync
	FullSyncHeaders = "FullSyncHeaders"
	// BlockProofs: block_hash (32) -> prover input blob
	BlockProofs = "BlockProofs"
	// SealedBatches: batch_number u64 BE -> JSON(types.Batch)
	SealedBatches = "SealedBatches"
	// FeeConfigs: block_number u64 BE -> JSON(committer.FeeConfig)
	FeeConfigs = "FeeConfigs"
)

// Tables lists every table the Backend must create/open; iteration order is
// not significant, but a fixed slice makes schema initialization deterministic.
var Tables = []string{
	Headers, Bodies, BlockNumbers, CanonicalBlockHashes, TransactionLocations,
	Receipts, AccountCodes, AccountCodeMetadata, AccountTrieNodes,
	StorageTrieNodes, AccountFlatKeyValue, StorageFlatKeyValue, ChainData,
	PendingBlocks, InvalidChains, SnapState, MiscValues, ExecutionWitnesses,
	FullSyncHeaders, BlockProofs, SealedBatches, FeeConfigs,
}

// ChainDataIndex enumerates the scalar values kept in the ChainData table.
type ChainDataIndex uint8

const (
	ChainDataLatestBlockNumber ChainDataIndex = iota
	ChainDataSafeBlockNumber
	ChainDataFinalizedBlockNumber
	ChainDataOldestWitnessBlockNumber
	ChainDataSchemaVersion
)

// SchemaVersion names the store schema revision. Nothing writes it to disk
// or checks it when a backend is opened.
const SchemaVersion = 1
