package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/triedb/view"
	"github.com/ethereum-mive/l2exec/witness"
)

// The EVM interpreter is out of scope throughout this repository: every
// package that needs one depends on a narrow collaborator interface
// instead (pipeline.Executor, pipeline.Warmer, witness.Executor) and is
// tested against stand-ins of its own. This file supplies the same kind
// of stand-in for cmd/l2execd so the binary links and runs end to end;
// none of these are a real EVM or L1 client, and each says so.

// passthroughValidator accepts every header: block production's own
// consensus engine is out of scope, so there is nothing here to check
// beyond what the pipeline already asserts (parent linkage, state root).
type passthroughValidator struct{}

func (passthroughValidator) ValidateHeader(header, parent *gethtypes.Header) error {
	if header.Number == nil || parent.Number == nil {
		return fmt.Errorf("blackbox: header missing number")
	}
	if header.Number.Cmp(new(big.Int).Add(parent.Number, big.NewInt(1))) != 0 {
		return fmt.Errorf("blackbox: header number %s is not parent+1 (%s)", header.Number, parent.Number)
	}
	return nil
}

// noopWarmer reports zero warm-up cost without touching v: a real
// deployment prefetches BAL addresses or speculatively re-executes here.
type noopWarmer struct{}

func (noopWarmer) Warm(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, bal *pipeline.BlockAccessList) (time.Duration, error) {
	return 0, nil
}

// noopExecutor emits no account updates and closes sink immediately: a
// real deployment runs the EVM over block.Transactions() here, streaming
// every touched account/slot into sink as it goes.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, sink merkle.Sink) (*pipeline.ExecutionResult, error) {
	sink.Close()
	return &pipeline.ExecutionResult{Receipts: gethtypes.Receipts{}, Code: map[common.Hash][]byte{}}, nil
}

// noopWitnessExecutor never records any code or state access, so
// witness.Builder.Build always returns an empty witness for any block
// range built against it. A real deployment re-executes the block here
// exactly as noopExecutor's real counterpart would, reporting every
// access through rec instead of a sink.
type noopWitnessExecutor struct{}

func (noopWitnessExecutor) Execute(ctx context.Context, block *gethtypes.Block, parent *gethtypes.Header, v *view.View, rec witness.Recorder) error {
	return nil
}

// stubL1Client never reaches an actual settlement chain: LastCommittedBatch
// always reports 0 (so the committer always starts from genesis), and
// SendCommit refuses outright rather than pretending to broadcast a
// transaction. A real deployment backs this with an L1 JSON-RPC client.
type stubL1Client struct{}

func (stubL1Client) LastCommittedBatch(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (stubL1Client) LatestBlockExcessBlobGas(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (stubL1Client) SendCommit(ctx context.Context, calldata []byte, blobs [][]byte, to common.Address) (common.Hash, error) {
	return common.Hash{}, fmt.Errorf("blackbox: no L1 client wired, cannot send commit to %s", to)
}
