package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-mive/l2exec/flatkv"
	"github.com/ethereum-mive/l2exec/kv"
	l2checkpoint "github.com/ethereum-mive/l2exec/l2/checkpoint"
	l2committer "github.com/ethereum-mive/l2exec/l2/committer"
	l2store "github.com/ethereum-mive/l2exec/l2/store"
	"github.com/ethereum-mive/l2exec/params"
	"github.com/ethereum-mive/l2exec/pipeline"
	"github.com/ethereum-mive/l2exec/store"
	"github.com/ethereum-mive/l2exec/triedb/layer"
	"github.com/ethereum-mive/l2exec/triedb/worker"
	"github.com/ethereum-mive/l2exec/witness"
)

// node bundles every running component cmd/l2execd owns, so main.go's
// shutdown path has a single place to read from.
type node struct {
	backend   kv.Backend
	generator *flatkv.Generator
	worker    *worker.Worker
	store     *store.Store
	pipeline  *pipeline.Pipeline
	builder   *witness.Builder
	manager   *l2checkpoint.Manager
	committer *l2committer.Committer
}

// buildNode constructs C1 through C11 over cfg, in dependency order:
// backend first, then the two background components (C6, C7) that read
// and write it directly, then the store facade (C8) that shares it with
// them rather than opening a second one, then the pipeline (C5) and the
// L2-specific components (C9, C10, C11) layered on top of the store.
//
// The pipeline's Warmer/Executor and the committer's L1Client are the
// black-box seams this repository leaves to a real deployment (see
// blackbox.go); everything else here is the genuine wiring this binary
// exists to provide.
func buildNode(cfg Config) (*node, error) {
	backend, err := kv.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	generator, err := flatkv.New(backend, cfg.CacheBytes)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open flat-kv generator: %w", err)
	}

	persistedRoot, err := readPersistedStateRoot(backend)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("read persisted state root: %w", err)
	}

	updates := make(chan pipeline.TrieUpdate)
	trieWorker := worker.New(layer.NewCache(cfg.LayerThreshold), persistedRoot, backend, generator, updates)

	st, err := store.OpenWithBackend(cfg.DataDir, backend, trieWorker, generator)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	p := pipeline.New(pipeline.Dependencies{
		Headers:        st,
		Validator:      passthroughValidator{},
		Layers:         trieWorker,
		Backend:        backend,
		Pivot:          generator,
		Warmer:         noopWarmer{},
		Executor:       noopExecutor{},
		Committer:      st,
		PendingStore:   st,
		TrieUpdates:    updates,
		DispatchBuffer: cfg.DispatchBuffer,
	})

	chainConfig := params.MainnetChainConfig
	witnessBuilder := witness.New(st, noopWitnessExecutor{}, chainConfig)

	applier := &checkpointApplier{
		warmer:    noopWarmer{},
		executor:  noopExecutor{},
		validator: passthroughValidator{},
	}
	manager := l2checkpoint.New(cfg.CheckpointDir, st, st, applier)

	rollupStore := l2store.New(backend)

	committerCfg := l2committer.Config{
		TimelockAddress:   parseOptionalAddress(cfg.Committer.TimelockAddress),
		Validium:          cfg.Committer.Validium,
		Based:             cfg.Committer.Based,
		CommitterWakeUpMS: cfg.Committer.CommitterWakeUpMS,
		CommitTimeMS:      cfg.Committer.CommitTimeMS,
		BatchGasLimit:     cfg.Committer.BatchGasLimit,
	}
	if cfg.Committer.ProposerAddress != "" {
		committerCfg.OnChainProposerAddress = *parseOptionalAddress(cfg.Committer.ProposerAddress)
	}
	if cfg.Committer.MessengerAddress != "" {
		committerCfg.L1MessengerAddress = *parseOptionalAddress(cfg.Committer.MessengerAddress)
	}
	committerCfg.GitCommitHash = gitCommitHash()

	committer := l2committer.New(l2committer.Dependencies{
		Chain:       st,
		RollupStore: rollupStore,
		Checkpoints: manager,
		L1:          stubL1Client{},
		Witness:     witnessBuilder,
		ChainConfig: chainConfig,
		Config:      committerCfg,
	})

	log.Info("l2execd: wired", "datadir", cfg.DataDir, "persistedRoot", persistedRoot)

	return &node{
		backend:   backend,
		generator: generator,
		worker:    trieWorker,
		store:     st,
		pipeline:  p,
		builder:   witnessBuilder,
		manager:   manager,
		committer: committer,
	}, nil
}

// readPersistedStateRoot seeds the background trie worker's notion of
// what the backend's trie tables currently reflect, by borrowing
// store.NewEphemeral's own current-header bootstrap rather than
// duplicating its header/canonical-hash lookups here. A backend with no
// committed blocks yet persists the empty trie root, matching genesis.
func readPersistedStateRoot(backend kv.Backend) (common.Hash, error) {
	bootstrap, err := store.NewEphemeral(backend, nil, nil)
	if err != nil {
		return common.Hash{}, err
	}
	if h := bootstrap.CurrentHeader(); h != nil {
		return h.Root, nil
	}
	return gethtypes.EmptyRootHash, nil
}
