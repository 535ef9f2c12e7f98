// Package reorg implements the chain reorganizer: given a candidate branch
// that extends some ancestor of the current tip, it compares cumulative
// difficulty, and if the candidate wins, rolls the current chain back to
// the fork point and replays the candidate branch as the new tip. A
// failure at any point during the switch restores the original chain
// before the error surfaces.
package reorg

import (
	"context"
	"log/slog"
	"sync"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/chainstate"
	"spacetime.dev/node/cryptoprovider"
)

// DefaultMaxReorgDepth bounds how many blocks may be rolled back in a
// single reorganization.
const DefaultMaxReorgDepth = 100

// Config governs how deep a reorganizer is willing to reach back.
type Config struct {
	MaxReorgDepth int64
}

// DefaultConfig returns the default depth limit.
func DefaultConfig() Config {
	return Config{MaxReorgDepth: DefaultMaxReorgDepth}
}

// Event is published on every successful reorganization.
type Event struct {
	ForkHeight    int64
	OldTipHeight  int64
	NewTipHeight  int64
	RevertedCount int
	AppliedCount  int
	Timestamp     int64
}

// TxPool accepts transactions from reverted blocks back into the pending
// set. mempool.Pool satisfies it; leaving it unset skips the return step.
type TxPool interface {
	Add(tx chain.SignedTransaction, hash chain.Hash) error
}

// Reorganizer evaluates and executes chain reorganizations against a single
// chainstate.Chain.
type Reorganizer struct {
	mu    sync.Mutex
	chain *chainstate.Chain
	cfg   Config
	log   *slog.Logger
	pool  TxPool

	subsMu sync.Mutex
	subs   []chan<- Event
}

// New builds a Reorganizer bound to chain.
func New(chain *chainstate.Chain, cfg Config, logger *slog.Logger) *Reorganizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reorganizer{chain: chain, cfg: cfg, log: logger}
}

// AttachMempool wires pool to receive the transactions of reverted blocks
// after a successful reorganization. Must be called before the first
// TryReorganize; a nil pool leaves the return step disabled.
func (r *Reorganizer) AttachMempool(pool TxPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool = pool
}

// Subscribe registers ch to receive future reorg events. Delivery is
// best-effort: a subscriber whose channel is full at publish time misses
// the event rather than blocking the reorganizer.
func (r *Reorganizer) Subscribe(ch chan<- Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs = append(r.subs, ch)
}

func (r *Reorganizer) publish(ev Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// FindForkPoint returns the hash of the most recent block common to both
// the current canonical chain and branch, where branch is an ordered,
// parent-linked sequence of candidate blocks (oldest first). It is simply
// branch's first parent hash, validated against the stored, non-orphaned
// chain -- branch arrives as the full divergent sequence already, so there
// is no height-matching walk to perform on our side.
func (r *Reorganizer) FindForkPoint(branch []chain.Block) (chain.Hash, error) {
	if len(branch) == 0 {
		return chain.Hash{}, chainerr.Precondition("reorg branch must not be empty")
	}
	forkHash := branch[0].Header.ParentHash
	if _, err := r.chain.Block(forkHash); err != nil {
		return chain.Hash{}, chainerr.Wrap(chainerr.KindNoCommonAncestor, "branch does not connect to a known block", err)
	}
	orphaned, err := r.chain.IsOrphaned(forkHash)
	if err != nil {
		return chain.Hash{}, err
	}
	if orphaned {
		return chain.Hash{}, chainerr.New(chainerr.KindNoCommonAncestor, "branch's parent is not on the canonical chain")
	}
	return forkHash, nil
}

// TryReorganize considers switching the canonical chain to end at branch's
// last block. branch must be non-empty, ordered oldest-to-newest, and
// contiguous by parent hash; its first block's parent must already sit on
// the canonical chain. It reports whether the switch happened; a false,
// nil return means the candidate branch's cumulative difficulty did not
// exceed the current tip's.
func (r *Reorganizer) TryReorganize(ctx context.Context, branch []chain.Block, now int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := checkContiguous(branch); err != nil {
		return false, err
	}

	forkHash, err := r.FindForkPoint(branch)
	if err != nil {
		return false, err
	}
	forkBlock, err := r.chain.Block(forkHash)
	if err != nil {
		return false, err
	}
	forkCum, found, err := r.chain.CumulativeDifficulty(forkHash)
	if err != nil {
		return false, err
	}
	if !found {
		return false, chainerr.New(chainerr.KindNoCommonAncestor, "fork block has no recorded cumulative difficulty")
	}

	branchCum := forkCum
	for _, b := range branch {
		branchCum += b.Header.Difficulty
	}

	tipHash := r.chain.TipHash()
	tipCum, found, err := r.chain.CumulativeDifficulty(tipHash)
	if err != nil {
		return false, err
	}
	if !found {
		return false, chainerr.New(chainerr.KindInvalidBlockState, "current tip has no recorded cumulative difficulty")
	}
	if branchCum <= tipCum {
		return false, nil
	}

	oldTipHeight := r.chain.TipHeight()
	depth := oldTipHeight - forkBlock.Header.Height
	if depth > r.cfg.MaxReorgDepth {
		return false, chainerr.New(chainerr.KindReorgTooDeep, "reorganization would exceed the maximum allowed depth")
	}

	reverted, err := r.disconnectToFork(ctx, forkHash)
	if err != nil {
		return false, err
	}

	if err := r.connectBranch(ctx, branch, reverted); err != nil {
		return false, err
	}

	r.returnRevertedTransactions(reverted, branch)

	newTip := branch[len(branch)-1]
	r.log.Info("chain reorganized",
		"fork_height", forkBlock.Header.Height,
		"old_tip_height", oldTipHeight,
		"new_tip_height", newTip.Header.Height,
		"reverted", len(reverted),
		"applied", len(branch),
	)
	r.publish(Event{
		ForkHeight:    forkBlock.Header.Height,
		OldTipHeight:  oldTipHeight,
		NewTipHeight:  newTip.Header.Height,
		RevertedCount: len(reverted),
		AppliedCount:  len(branch),
		Timestamp:     now,
	})
	return true, nil
}

// disconnectToFork rolls the current tip back, one block at a time, until
// it reaches forkHash. It returns the reverted blocks oldest-first (the
// reverse of revert order), ready to be replayed if the subsequent connect
// step fails.
func (r *Reorganizer) disconnectToFork(ctx context.Context, forkHash chain.Hash) ([]chain.Block, error) {
	var reverted []chain.Block
	for r.chain.TipHash() != forkHash {
		blk, err := r.chain.RevertTip(ctx)
		if err != nil {
			// Best-effort repair: put back whatever we already disconnected,
			// which also re-marks each block canonical. This runs
			// unconditionally on context.Background() -- a cancellation is
			// not a license to leave the chain mid-unwind.
			for i := len(reverted) - 1; i >= 0; i-- {
				if aerr := r.chain.ApplyBlock(context.Background(), reverted[i]); aerr != nil {
					r.log.Error("failed to restore a reverted block after an aborted disconnect",
						"height", reverted[i].Header.Height, "error", aerr)
				}
			}
			return nil, chainerr.Wrap(chainerr.KindReorgFailed, "failed to disconnect current chain to the fork point", err)
		}
		reverted = append(reverted, blk)
	}
	reverseBlocks(reverted)
	return reverted, nil
}

// connectBranch applies branch's blocks in order as the new tip. If any
// block fails to apply, everything already applied from branch is rolled
// back and the original chain (reverted) is restored; re-applying the old
// blocks re-marks them canonical.
func (r *Reorganizer) connectBranch(ctx context.Context, branch, reverted []chain.Block) error {
	var applied []chain.Block
	for _, b := range branch {
		if err := r.chain.ApplyBlock(ctx, b); err != nil {
			for range applied {
				if _, rerr := r.chain.RevertTip(context.Background()); rerr != nil {
					return chainerr.Wrap(chainerr.KindReorgFailed, "failed to roll back a partially applied branch", rerr)
				}
			}
			for _, old := range reverted {
				if aerr := r.chain.ApplyBlock(context.Background(), old); aerr != nil {
					return chainerr.Wrap(chainerr.KindReorgFailed, "failed to restore the original chain after a failed reorg", aerr)
				}
			}
			return chainerr.Wrap(chainerr.KindReorgFailed, "candidate branch failed to apply", err)
		}
		applied = append(applied, b)
	}
	return nil
}

// returnRevertedTransactions offers the transactions of reverted blocks
// back to the attached mempool, skipping any the new branch included
// itself. Best-effort: a transaction the pool rejects (duplicate, now
// invalid against the reorganized state) is simply dropped.
func (r *Reorganizer) returnRevertedTransactions(reverted, applied []chain.Block) {
	if r.pool == nil {
		return
	}
	inNewBranch := make(map[chain.Hash]bool)
	for _, b := range applied {
		for _, tx := range b.Body.Transactions {
			inNewBranch[tx.Hash(cryptoprovider.Default, tx.UnsignedBytes())] = true
		}
	}
	for _, b := range reverted {
		for _, tx := range b.Body.Transactions {
			hash := tx.Hash(cryptoprovider.Default, tx.UnsignedBytes())
			if inNewBranch[hash] {
				continue
			}
			if err := r.pool.Add(tx, hash); err != nil {
				r.log.Debug("reverted transaction not returned to mempool", "error", err)
			}
		}
	}
}

func checkContiguous(branch []chain.Block) error {
	if len(branch) == 0 {
		return chainerr.Precondition("reorg branch must not be empty")
	}
	for i := 1; i < len(branch); i++ {
		parent := branch[i-1]
		parentHash := parent.Header.Hash(cryptoprovider.Default, parent.Header.UnsignedBytes())
		if branch[i].Header.ParentHash != parentHash {
			return chainerr.Precondition("reorg branch is not contiguous")
		}
	}
	return nil
}

func reverseBlocks(blocks []chain.Block) {
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
}
