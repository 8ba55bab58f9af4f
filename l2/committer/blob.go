package committer

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/params"
)

// blobFeeHeadroomPercent is the 20% margin spec.md's Send step adds over
// the bare fake-exponential estimate, so a transaction doesn't immediately
// underprice itself if the next block's excess blob gas ticks up before
// it lands.
const blobFeeHeadroomPercent = 20

// estimateBlobFeeCap returns the per-blob-gas fee cap to bid, computed
// from the latest L1 block's excess blob gas via go-ethereum's own
// fake-exponential blob pricing formula (EIP-4844 §fee market), plus
// headroom.
func estimateBlobFeeCap(cfg *params.ChainConfig, excessBlobGas uint64) *big.Int {
	header := &gethtypes.Header{ExcessBlobGas: &excessBlobGas}
	base := eip4844.CalcBlobFee(cfg, header)
	return new(big.Int).Div(new(big.Int).Mul(base, big.NewInt(100+blobFeeHeadroomPercent)), big.NewInt(100))
}

// buildBlob packs a batch's prover-input payload into a single EIP-4844
// blob and returns its versioned hash alongside it, for a caller that
// needs to log or cross-check it against the blob transaction's own
// computed hash. Validium batches skip this entirely (they carry no blob).
func buildBlob(payload []byte) (kzg4844.Blob, common.Hash, error) {
	var blob kzg4844.Blob
	if len(payload) > len(blob) {
		payload = payload[:len(blob)]
	}
	copy(blob[:], payload)

	commitment, err := kzg4844.BlobToCommitment(&blob)
	if err != nil {
		return blob, common.Hash{}, err
	}
	hasher := sha256.New()
	versionedHash := kzg4844.CalcBlobHashV1(hasher, &commitment)
	return blob, versionedHash, nil
}
