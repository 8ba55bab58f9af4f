// Package committer implements the batch committer (C10): a
// process-wide state machine that periodically checks the settlement
// chain's last committed batch, produces the next batch by applying
// blocks into a disposable checkpoint copy, seals it locally, and sends
// it to L1, resending the same transaction with exponential back-off (no
// gas bumping between attempts).
//
// Grounded on original_source's l1_committer.rs for the sequencing
// lifecycle and commit-calldata shape, expressed in this repo's
// goroutine+channel idiom rather than the original's actor (GenServer)
// messages — the same adaptation this repo's other background components
// (C6, C7) already make from their own original-language counterparts.
package committer

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/cenkalti/backoff/v4"

	l2types "github.com/ethereum-mive/l2exec/core/types"
	"github.com/ethereum-mive/l2exec/params"
	"github.com/ethereum-mive/l2exec/witness"
)

// privilegedTxType is the L2 privileged-transaction type byte spec.md's
// §6 canonical-encoding table assigns.
const privilegedTxType = 0x7e

var (
	batchesSealed = metrics.NewRegisteredCounter("committer/batches/sealed", nil)
	batchesSent   = metrics.NewRegisteredCounter("committer/batches/sent", nil)
	stateGauge    = metrics.NewRegisteredGauge("committer/state", nil)
)

// Dependencies bundles every collaborator Committer needs.
type Dependencies struct {
	Chain       ChainSource
	RollupStore RollupStore
	Checkpoints Checkpointer
	L1          L1Client
	Witness     *witness.Builder
	ChainConfig *params.ChainConfig
	Config      Config
}

// Committer drives the Starting -> Sequencing <-> Paused -> Stopped state
// machine described by spec.md. One instance exists per process.
type Committer struct {
	deps Dependencies

	state   atomic.Int32
	control chan signal
	done    chan struct{}

	lastCommittedBatch atomic.Uint64
}

type signal int

const (
	sigPause signal = iota
	sigResume
	sigStop
)

func New(deps Dependencies) *Committer {
	if deps.Config.CommitterWakeUpMS == 0 {
		deps.Config.CommitterWakeUpMS = 60_000
	}
	c := &Committer{deps: deps, control: make(chan signal), done: make(chan struct{})}
	c.state.Store(int32(StateStarting))
	return c
}

func (c *Committer) State() State { return State(c.state.Load()) }

// Pause and Resume rendezvous with Run the same way flatkv.Generator's
// Stop/Continue do, so a caller never races Run's own write transactions.
func (c *Committer) Pause() {
	select {
	case c.control <- sigPause:
	case <-c.done:
	}
}

func (c *Committer) Resume() {
	select {
	case c.control <- sigResume:
	case <-c.done:
	}
}

func (c *Committer) Stop() {
	select {
	case c.control <- sigStop:
	case <-c.done:
	}
}

// Run drives the idle-tick loop until ctx is cancelled or Stop is called.
func (c *Committer) Run(ctx context.Context) {
	defer close(c.done)
	c.state.Store(int32(StateSequencing))
	stateGauge.Update(int64(StateSequencing))

	wake := jitteredDuration(time.Duration(c.deps.Config.CommitterWakeUpMS) * time.Millisecond)
	timer := time.NewTimer(wake)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-c.control:
			if !c.handleSignal(sig) {
				return
			}
			continue
		case <-timer.C:
		}

		if c.State() == StateSequencing {
			if err := c.tick(ctx); err != nil {
				log.Error("committer: tick failed", "err", err)
			}
		}
		timer.Reset(jitteredDuration(time.Duration(c.deps.Config.CommitterWakeUpMS) * time.Millisecond))
	}
}

func (c *Committer) handleSignal(sig signal) (keepRunning bool) {
	switch sig {
	case sigPause:
		c.state.Store(int32(StatePaused))
		stateGauge.Update(int64(StatePaused))
	case sigResume:
		c.state.Store(int32(StateSequencing))
		stateGauge.Update(int64(StateSequencing))
	case sigStop:
		c.state.Store(int32(StateStopped))
		stateGauge.Update(int64(StateStopped))
		return false
	}
	return true
}

// jitteredDuration returns d scaled by a uniform random factor in
// [0.9, 1.1), spreading wakeups across many committer instances the way
// spec.md's "jittered" wake-up interval requires.
func jitteredDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}

// tick implements one idle-tick cycle: resolve the target batch, produce
// it if not yet sealed, then send it.
func (c *Committer) tick(ctx context.Context) error {
	lastCommitted, err := c.deps.L1.LastCommittedBatch(ctx)
	if err != nil {
		return fmt.Errorf("query last committed batch: %w", err)
	}
	c.lastCommittedBatch.Store(lastCommitted)
	target := lastCommitted + 1

	batch, sealed, err := c.deps.RollupStore.SealedBatch(target)
	if err != nil {
		return fmt.Errorf("check sealed batch %d: %w", target, err)
	}
	if !sealed {
		batch, err = c.Produce(ctx, target, lastCommitted)
		if err != nil {
			if err == ErrNoBlocksToSequence {
				return nil
			}
			return fmt.Errorf("produce batch %d: %w", target, err)
		}
	}
	return c.Send(ctx, batch)
}

// Produce builds and seals batch number target, whose blocks start right
// after previousBatch's last block.
func (c *Committer) Produce(ctx context.Context, target, previousBatch uint64) (*l2types.Batch, error) {
	workspace, err := c.deps.Checkpoints.CloneForBatch(ctx, previousBatch)
	if err != nil {
		return nil, fmt.Errorf("clone checkpoint: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			workspace.Discard()
		}
	}()

	firstBlock := previousBatch + 1

	var (
		included     []*gethtypes.Block
		aggregateGas uint64
		stateRoot    common.Hash
		bookkeeping  messageBookkeeping
	)
	for number := firstBlock; ; number++ {
		header, err := c.deps.Chain.GetHeaderByNumber(number)
		if err != nil || header == nil {
			break
		}
		if c.deps.Config.BatchGasLimit != 0 && aggregateGas+header.GasUsed > c.deps.Config.BatchGasLimit {
			break
		}
		block, err := c.deps.Chain.GetBlock(header.Hash())
		if err != nil || block == nil {
			return nil, fmt.Errorf("resolve block %d: %w", number, err)
		}
		root, err := workspace.ApplyBlock(ctx, block)
		if err != nil {
			return nil, fmt.Errorf("apply block %d: %w", number, err)
		}
		receipts, err := c.deps.Chain.GetReceipts(block.Hash(), len(block.Transactions()))
		if err != nil {
			return nil, fmt.Errorf("resolve receipts %d: %w", number, err)
		}
		fee, err := c.deps.RollupStore.FeeConfig(number)
		if err != nil {
			return nil, fmt.Errorf("resolve fee config %d: %w", number, err)
		}
		bookkeeping.observeBlock(block, receipts, c.deps.Config.L1MessengerAddress, fee)

		included = append(included, block)
		aggregateGas += header.GasUsed
		stateRoot = root
	}
	if len(included) == 0 {
		return nil, ErrNoBlocksToSequence
	}

	blobsBundle, err := buildBlobsBundle(included, bookkeeping.feeConfigs)
	if err != nil {
		return nil, fmt.Errorf("build blobs bundle: %w", err)
	}

	batch := &l2types.Batch{
		Number:      target,
		FirstBlock:  included[0].NumberU64(),
		LastBlock:   included[len(included)-1].NumberU64(),
		StateRoot:   stateRoot,
		BlobsBundle: blobsBundle,
	}
	var chainID *big.Int
	if c.deps.ChainConfig != nil && c.deps.ChainConfig.Eth != nil {
		chainID = c.deps.ChainConfig.Eth.ChainID
	}
	bookkeeping.finish(batch, chainID)

	if err := c.deps.RollupStore.StoreSealedBatch(batch); err != nil {
		return nil, fmt.Errorf("seal batch: %w", err)
	}
	if err := c.deps.Checkpoints.Promote(ctx, workspace, target); err != nil {
		return nil, fmt.Errorf("promote checkpoint: %w", err)
	}
	committed = true
	batchesSealed.Inc(1)
	return batch, nil
}

// Send ABI-encodes and sends the commit transaction for batch, retrying
// with exponential back-off until it lands, ctx is cancelled, or the
// back-off's default 15-minute elapsed-time limit runs out. Every attempt
// resends the same calldata and blobs; no gas price is bumped between
// attempts.
func (c *Committer) Send(ctx context.Context, batch *l2types.Batch) error {
	lastBlockHeader, err := c.deps.Chain.GetHeaderByNumber(batch.LastBlock)
	if err != nil {
		return fmt.Errorf("resolve last block %d: %w", batch.LastBlock, err)
	}
	if lastBlockHeader == nil {
		return fmt.Errorf("missing header for last block %d of batch %d", batch.LastBlock, batch.Number)
	}

	var blobs [][]byte
	if !c.deps.Config.Validium {
		excess, gerr := c.deps.L1.LatestBlockExcessBlobGas(ctx)
		if gerr != nil {
			return fmt.Errorf("query excess blob gas: %w", gerr)
		}
		_ = estimateBlobFeeCap(c.deps.ChainConfig.Eth, excess) // computed and discarded: SendCommit takes no fee cap

		proverInput, werr := c.buildProverInput(ctx, batch)
		if werr != nil {
			return fmt.Errorf("build prover input: %w", werr)
		}
		blob, _, berr := buildBlob(proverInput)
		if berr != nil {
			return fmt.Errorf("build blob: %w", berr)
		}
		blobs = [][]byte{blob[:]}
	}

	calldata, err := packCommitBatch(batch, lastBlockHeader.Hash(), c.deps.Config.GitCommitHash)
	if err != nil {
		return fmt.Errorf("pack commit calldata: %w", err)
	}

	to := c.deps.Config.OnChainProposerAddress
	if !c.deps.Config.Based && c.deps.Config.TimelockAddress != nil {
		to = *c.deps.Config.TimelockAddress
	}

	retry := backoff.NewExponentialBackOff()
	var txHash common.Hash
	sendErr := backoff.Retry(func() error {
		h, err := c.deps.L1.SendCommit(ctx, calldata, blobs, to)
		if err != nil {
			log.Warn("committer: send commit failed, retrying", "batch", batch.Number, "err", err)
			return err
		}
		txHash = h
		return nil
	}, backoff.WithContext(retry, ctx))
	if sendErr != nil {
		return fmt.Errorf("send commit batch %d: %w", batch.Number, sendErr)
	}

	batch.CommitTxHash = txHash
	if err := c.deps.RollupStore.StoreSealedBatch(batch); err != nil {
		return fmt.Errorf("persist commit tx hash: %w", err)
	}
	c.lastCommittedBatch.Store(batch.Number)
	batchesSent.Inc(1)
	return nil
}

// buildProverInput re-resolves batch's included block range from the
// chain and runs it through C9's witness builder, RLP-encoding the result
// as the prover input the batch's blob carries. Produce doesn't keep the
// resolved *gethtypes.Block slice around on l2types.Batch (only the
// first/last block numbers are persisted), so Send re-derives it the same
// way Produce originally assembled it.
func (c *Committer) buildProverInput(ctx context.Context, batch *l2types.Batch) ([]byte, error) {
	blocks, err := c.blocksForBatch(batch)
	if err != nil {
		return nil, err
	}
	w, err := c.deps.Witness.Build(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("build execution witness: %w", err)
	}
	return w.Encode()
}

// blocksForBatch resolves every block in [batch.FirstBlock, batch.LastBlock]
// through the chain source, the same range Produce originally walked.
func (c *Committer) blocksForBatch(batch *l2types.Batch) ([]*gethtypes.Block, error) {
	blocks := make([]*gethtypes.Block, 0, batch.LastBlock-batch.FirstBlock+1)
	for number := batch.FirstBlock; number <= batch.LastBlock; number++ {
		header, err := c.deps.Chain.GetHeaderByNumber(number)
		if err != nil {
			return nil, fmt.Errorf("resolve header %d: %w", number, err)
		}
		if header == nil {
			return nil, fmt.Errorf("missing header %d for batch %d", number, batch.Number)
		}
		block, err := c.deps.Chain.GetBlock(header.Hash())
		if err != nil {
			return nil, fmt.Errorf("resolve block %d: %w", number, err)
		}
		if block == nil {
			return nil, fmt.Errorf("missing block %d for batch %d", number, batch.Number)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
