// Package flatkv implements the flat-kv generator (C7): a background
// traversal that walks the persisted trie-node tables and materializes
// every leaf it finds into the flat account/storage tables C3 prefers for
// point reads below the generator's pivot.
//
// Grounded on the state-machine shape of geth's core/state/snapshot
// generator (Idle/Running/Paused/Done driven by a control channel), adapted
// to this repo's nibble-path table layout instead of snapshot's 32-byte
// hashed keys.
package flatkv

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethereum-mive/l2exec/kv"
	"github.com/ethereum-mive/l2exec/merkle"
	"github.com/ethereum-mive/l2exec/triedb/view"
)

// State is one of the four stages of the generator's lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type signal int

const (
	sigStop signal = iota
	sigContinue
)

// cursorKey is where the generator's pivot is persisted in SnapState, so a
// restart resumes rather than re-walking the whole trie.
var cursorKey = []byte("flatkv_cursor")

// sentinelPivot is the "generation complete" marker, matching the one
// view.belowPivot already special-cases.
var sentinelPivot = []byte{0xFF}

// leavesPerCheckpoint bounds how many account leaves (each with its full
// storage sub-trie) one step processes before persisting the cursor and
// giving the control channel a chance to rendezvous with a pending Stop.
const leavesPerCheckpoint = 10000

var (
	generatedCounter = metrics.NewRegisteredCounter("flatkv/generator/leaves", nil)
	stateGauge       = metrics.NewRegisteredGauge("flatkv/generator/state", nil)
)

// Generator produces the flat account/storage snapshot consumed by C3. It
// implements triedb/worker.PivotController so the background trie worker
// can gate it around a persistence write.
type Generator struct {
	backend   kv.Backend
	leafCache *fastcache.Cache

	control chan signal
	done    chan struct{}

	state atomic.Int32
	pivot atomic.Pointer[[]byte]
}

// New opens a Generator over backend, resuming from whatever cursor was
// last persisted to SnapState (nil if generation has never run, the
// sentinel if it already finished).
func New(backend kv.Backend, cacheBytes int) (*Generator, error) {
	if cacheBytes <= 0 {
		cacheBytes = 32 * 1024 * 1024
	}
	g := &Generator{
		backend:   backend,
		leafCache: fastcache.New(cacheBytes),
		control:   make(chan signal),
		done:      make(chan struct{}),
	}
	rtx, err := backend.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rtx.Discard()
	cursor, err := rtx.Get(kv.SnapState, cursorKey)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		g.storePivot(cursor)
		if bytes.Equal(cursor, sentinelPivot) {
			g.state.Store(int32(StateDone))
		}
	}
	return g, nil
}

// State reports the generator's current lifecycle stage.
func (g *Generator) State() State { return State(g.state.Load()) }

// Pivot implements triedb/worker.PivotController and is consumed directly
// by triedb/view.RouteNode: nil means nothing has been materialized yet,
// []byte{0xFF} means generation is complete.
func (g *Generator) Pivot() []byte {
	if p := g.pivot.Load(); p != nil {
		return *p
	}
	return nil
}

func (g *Generator) storePivot(p []byte) {
	cp := append([]byte(nil), p...)
	g.pivot.Store(&cp)
}

// Stop implements triedb/worker.PivotController: it rendezvous-blocks until
// the generator reaches its next cooperative yield point and pauses, or
// until Run has already exited. A Generator that never started (Idle)
// still rendezvous: Run's own select is waiting on the control channel.
// One that already finished (Done) has left Run and closed done, so Stop
// returns at once without sending.
func (g *Generator) Stop() {
	select {
	case g.control <- sigStop:
	case <-g.done:
	}
}

// Continue implements triedb/worker.PivotController: starts generation the
// first time, resumes it after a Stop.
func (g *Generator) Continue() {
	select {
	case g.control <- sigContinue:
	case <-g.done:
	}
}

func (g *Generator) handleSignal(sig signal) {
	switch sig {
	case sigContinue:
		g.state.Store(int32(StateRunning))
		stateGauge.Update(int64(StateRunning))
	case sigStop:
		g.state.Store(int32(StatePaused))
		stateGauge.Update(int64(StatePaused))
	}
}

// Run drives the generator until ctx is canceled or generation completes.
// It is meant to run for the lifetime of the process on its own goroutine.
func (g *Generator) Run(ctx context.Context) {
	defer close(g.done)
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0 // retry forever; a backend outage is transient, not fatal
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch g.State() {
		case StateDone:
			return
		case StateRunning:
			done, err := g.step()
			if err != nil {
				log.Error("flatkv: generation step failed, will retry", "err", err)
				time.Sleep(retry.NextBackOff())
				continue
			}
			retry.Reset()
			if done {
				g.state.Store(int32(StateDone))
				stateGauge.Update(int64(StateDone))
				return
			}
			// Cooperative yield point: a pending Stop takes effect here
			// without leaving its sender blocked past this step boundary.
			select {
			case sig := <-g.control:
				g.handleSignal(sig)
			default:
			}
		default: // Idle or Paused: block until told to continue.
			select {
			case <-ctx.Done():
				return
			case sig := <-g.control:
				g.handleSignal(sig)
			}
		}
	}
}

// step performs one bounded unit of work: open a fresh read snapshot,
// resume the AccountTrieNodes scan just past the saved cursor, and for
// every leaf found materialize it plus its full storage sub-trie before
// persisting the advanced cursor in the same write transaction. Opening a
// fresh snapshot every step means a concurrent commit is always picked up
// on the next pass rather than read against a stale one.
func (g *Generator) step() (done bool, err error) {
	rtx, err := g.backend.BeginRead()
	if err != nil {
		return false, err
	}
	defer rtx.Discard()

	it, err := rtx.Prefix(kv.AccountTrieNodes, nil)
	if err != nil {
		return false, err
	}
	defer it.Close()

	wtx, err := g.backend.BeginWrite()
	if err != nil {
		return false, err
	}

	cursor := g.Pivot()
	processed := 0
	for it.Next() {
		path := append([]byte(nil), it.Key()...)
		if cursor != nil && bytes.Compare(path, cursor) <= 0 {
			continue
		}
		if !view.IsLeafPath(path) {
			continue // internal node: nothing to materialize, keep scanning
		}
		value, derr := g.decodeLeaf(path, it.Value())
		if derr != nil {
			log.Error("flatkv: decode account leaf, skipping", "err", derr)
			continue
		}
		if err := wtx.Put(kv.AccountFlatKeyValue, path, value); err != nil {
			wtx.Rollback()
			return false, err
		}
		if err := g.generateStorage(rtx, wtx, path); err != nil {
			wtx.Rollback()
			return false, err
		}
		// Pad to the longest path any leaf of this account's storage
		// sub-trie can have (0xFF exceeds every real nibble value 0-15), so
		// RouteNode treats the whole account — including every storage slot
		// just written above — as behind the pivot, not just its own path.
		cursor = append(append([]byte(nil), path...), bytes.Repeat([]byte{0xFF}, len(path))...)
		processed++
		generatedCounter.Inc(1)
		if processed >= leavesPerCheckpoint {
			break
		}
	}
	if err := it.Err(); err != nil {
		wtx.Rollback()
		return false, err
	}

	if processed == 0 {
		if err := wtx.Put(kv.SnapState, cursorKey, sentinelPivot); err != nil {
			wtx.Rollback()
			return false, err
		}
		if err := wtx.Commit(); err != nil {
			return false, err
		}
		g.storePivot(sentinelPivot)
		return true, nil
	}

	if err := wtx.Put(kv.SnapState, cursorKey, cursor); err != nil {
		wtx.Rollback()
		return false, err
	}
	if err := wtx.Commit(); err != nil {
		return false, err
	}
	g.storePivot(cursor)
	return false, nil
}

// generateStorage materializes every storage leaf under accountPath's
// sub-trie into StorageFlatKeyValue. merkle's shard builder prefixes every
// storage path with the owning account's hashed-address nibbles, so a
// prefix scan bounded to accountPath visits exactly that account's slots.
func (g *Generator) generateStorage(rtx kv.ReadTx, wtx kv.WriteTx, accountPath []byte) error {
	it, err := rtx.Prefix(kv.StorageTrieNodes, accountPath)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		path := append([]byte(nil), it.Key()...)
		if !view.IsLeafPath(path) {
			continue
		}
		value, derr := g.decodeLeaf(path, it.Value())
		if derr != nil {
			log.Error("flatkv: decode storage leaf, skipping", "err", derr)
			continue
		}
		if err := wtx.Put(kv.StorageFlatKeyValue, path, value); err != nil {
			return err
		}
	}
	return it.Err()
}

// decodeLeaf extracts a leaf's bare value, memoizing the result in a
// read-ahead cache. The cache mainly pays off when C11's checkpoint replay
// re-drives generation over a range this process already materialized
// once, since every ordinary step() call only ever reaches undecoded paths
// thanks to the cursor skip above.
func (g *Generator) decodeLeaf(path, nodeBytes []byte) ([]byte, error) {
	if v, ok := g.leafCache.HasGet(nil, path); ok {
		return v, nil
	}
	value, err := merkle.DecodeLeafValue(nodeBytes)
	if err != nil {
		return nil, err
	}
	g.leafCache.Set(path, value)
	return value, nil
}
