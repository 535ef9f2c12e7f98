package reorg

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/chainstate"
	"spacetime.dev/node/codec"
	"spacetime.dev/node/cryptoprovider"
	"spacetime.dev/node/difficulty"
	"spacetime.dev/node/epoch"
	"spacetime.dev/node/storage"
	"spacetime.dev/node/store"
)

// newTestSetup opens a fresh bbolt-backed store, seeds genesis plus one
// funded sender, and returns a chain ready to accept height-1 blocks.
func newTestSetup(t *testing.T) (*chainstate.Chain, chain.Block, chain.PubKey, chain.PubKey) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sender, recipient := chain.PubKey{1}, chain.PubKey{2}
	genesis, allocations, err := chain.Genesis(chain.GenesisConfig{
		NetworkID:            "testnet",
		InitialTimestamp:     1000,
		InitialDifficulty:    1,
		InitialEpoch:         0,
		EpochDurationSeconds: 100,
		MinEpochDuration:     1,
		MaxEpochDuration:     1_000_000,
		TargetBlockTime:      10,
	})
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	allocations[sender] = chain.AccountState{Balance: 1000, Nonce: 0}

	genesisHash := genesis.Header.Hash(cryptoprovider.Default, codec.EncodeHeaderUnsigned(genesis.Header.UnsignedBlockHeader))
	err = db.WriteBatch(func(b storage.Batch) error {
		for addr, s := range allocations {
			if err := b.Accounts().Put(addr, s); err != nil {
				return err
			}
		}
		if err := b.Blocks().Put(genesisHash, codec.EncodeBlock(*genesis)); err != nil {
			return err
		}
		if err := b.Metadata().SetBestBlockHash(genesisHash); err != nil {
			return err
		}
		if err := b.Metadata().SetChainHeight(0); err != nil {
			return err
		}
		return b.Metadata().SetCumulativeDifficulty(genesisHash, genesis.Header.Difficulty)
	})
	if err != nil {
		t.Fatalf("seed genesis: %v", err)
	}

	mgr := epoch.New(epoch.Config{EpochDurationSeconds: 100}, "testnet", 1000)
	c := chainstate.New(db, mgr, difficulty.DefaultConfig(), 1, nil)
	return c, *genesis, sender, recipient
}

func buildChildBlock(t *testing.T, parent chain.Block, minerTag byte, sender, recipient chain.PubKey, amount, nonce, fee, diff int64) chain.Block {
	t.Helper()
	parentHash := parent.Header.Hash(cryptoprovider.Default, codec.EncodeHeaderUnsigned(parent.Header.UnsignedBlockHeader))

	tx := chain.UnsignedTransaction{
		Version: chain.CurrentVersion, Sender: sender, Recipient: recipient,
		Amount: amount, Nonce: nonce, Fee: fee,
	}
	signedTx := tx.Sign(chain.Signature{1}, codec.EncodeTransactionUnsigned(tx))

	header := chain.UnsignedBlockHeader{
		Version:    chain.CurrentVersion,
		ParentHash: parentHash,
		Height:     parent.Header.Height + 1,
		Timestamp:  parent.Header.Timestamp + 10,
		Difficulty: diff,
		Epoch:      parent.Header.Epoch,
		Challenge:  parent.Header.Challenge,
		PlotRoot:   chain.ZeroHash,
		ProofScore: chain.Hash{},
		TxRoot:     signedTx.Hash(cryptoprovider.Default, signedTx.UnsignedBytes()),
		MinerID:    chain.PubKey{minerTag},
	}
	signedHeader := header.Sign(chain.Signature{1}, codec.EncodeHeaderUnsigned(header))

	return chain.Block{
		Header: signedHeader,
		Body: chain.BlockBody{
			Transactions: []chain.SignedTransaction{signedTx},
			Proof:        chain.BlockProof{},
		},
	}
}

func TestTryReorganize_SwitchesToHeavierBranch(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}

	altTip := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 5)

	r := New(c, Config{MaxReorgDepth: DefaultMaxReorgDepth}, slog.Default())
	reorged, err := r.TryReorganize(context.Background(), []chain.Block{altTip}, 2000)
	if err != nil {
		t.Fatalf("TryReorganize: %v", err)
	}
	if !reorged {
		t.Fatalf("expected the heavier branch to win")
	}

	altHash := altTip.Header.Hash(cryptoprovider.Default, altTip.Header.UnsignedBytes())
	if c.TipHash() != altHash {
		t.Fatalf("tip should now be the alternative branch's block")
	}
	if c.TipHeight() != 1 {
		t.Fatalf("TipHeight = %d, want 1", c.TipHeight())
	}

	senderBal, err := c.GetBalance(sender)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if senderBal != 1000-200 {
		t.Fatalf("sender balance = %d, want %d (the main branch's debit must have been undone)", senderBal, 1000-200)
	}
}

func TestTryReorganize_LighterBranchDoesNotWin(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 10)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}

	altTip := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 1)

	r := New(c, DefaultConfig(), slog.Default())
	reorged, err := r.TryReorganize(context.Background(), []chain.Block{altTip}, 2000)
	if err != nil {
		t.Fatalf("TryReorganize: %v", err)
	}
	if reorged {
		t.Fatalf("a lighter branch must not win")
	}
	mainHash := mainTip.Header.Hash(cryptoprovider.Default, mainTip.Header.UnsignedBytes())
	if c.TipHash() != mainHash {
		t.Fatalf("tip should remain on the original branch")
	}
}

func TestTryReorganize_RespectsMaxDepth(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}

	altTip := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 50)

	r := New(c, Config{MaxReorgDepth: 0}, slog.Default())
	_, err := r.TryReorganize(context.Background(), []chain.Block{altTip}, 2000)
	if !chainerr.Is(err, chainerr.KindReorgTooDeep) {
		t.Fatalf("expected KindReorgTooDeep, got %v", err)
	}
}

func TestTryReorganize_RejectsNonContiguousBranch(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	b1 := buildChildBlock(t, genesis, 8, sender, recipient, 10, 0, 0, 5)
	// b2 claims to follow genesis again instead of b1: not contiguous.
	b2 := buildChildBlock(t, genesis, 7, sender, recipient, 10, 1, 0, 5)

	r := New(c, DefaultConfig(), slog.Default())
	_, err := r.TryReorganize(context.Background(), []chain.Block{b1, b2}, 2000)
	if !chainerr.Is(err, chainerr.KindPrecondition) {
		t.Fatalf("expected KindPrecondition for a non-contiguous branch, got %v", err)
	}
}

func TestTryReorganize_FailedBranchRestoresOriginalChain(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}

	// b1 applies cleanly; b2 carries a nonce far ahead of the account, so
	// connecting the branch fails halfway through.
	b1 := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 10)
	b2 := buildChildBlock(t, b1, 8, sender, recipient, 10, 5, 0, 10)

	r := New(c, DefaultConfig(), slog.Default())
	_, err := r.TryReorganize(context.Background(), []chain.Block{b1, b2}, 2000)
	if !chainerr.Is(err, chainerr.KindReorgFailed) {
		t.Fatalf("expected KindReorgFailed, got %v", err)
	}

	mainHash := mainTip.Header.Hash(cryptoprovider.Default, mainTip.Header.UnsignedBytes())
	if c.TipHash() != mainHash {
		t.Fatalf("tip should be restored to the original chain after a failed reorg")
	}
	if c.TipHeight() != 1 {
		t.Fatalf("TipHeight = %d, want 1 after rollback", c.TipHeight())
	}
	orphaned, err := c.IsOrphaned(mainHash)
	if err != nil {
		t.Fatalf("IsOrphaned: %v", err)
	}
	if orphaned {
		t.Fatalf("the restored tip must be marked canonical again")
	}
	senderBal, err := c.GetBalance(sender)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if senderBal != 1000-100 {
		t.Fatalf("sender balance = %d, want %d (only the original block's debit)", senderBal, 1000-100)
	}
}

func TestTryReorganize_OscillatingReorgClearsOrphanFlags(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	a1 := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), a1); err != nil {
		t.Fatalf("ApplyBlock(a1): %v", err)
	}

	r := New(c, DefaultConfig(), slog.Default())

	// First flip: a heavier single-block branch wins, orphaning a1.
	b1 := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 5)
	if reorged, err := r.TryReorganize(context.Background(), []chain.Block{b1}, 2000); err != nil || !reorged {
		t.Fatalf("first reorg: reorged=%v err=%v", reorged, err)
	}

	// Second flip: the original branch, extended, outweighs b1 again. The
	// re-applied a1 must come back canonical, not stay flagged orphaned.
	a2 := buildChildBlock(t, a1, 9, sender, recipient, 50, 1, 0, 10)
	if reorged, err := r.TryReorganize(context.Background(), []chain.Block{a1, a2}, 3000); err != nil || !reorged {
		t.Fatalf("second reorg: reorged=%v err=%v", reorged, err)
	}

	a1Hash := a1.Header.Hash(cryptoprovider.Default, a1.Header.UnsignedBytes())
	orphaned, err := c.IsOrphaned(a1Hash)
	if err != nil {
		t.Fatalf("IsOrphaned(a1): %v", err)
	}
	if orphaned {
		t.Fatalf("a1 was re-applied as part of the winning branch and must be canonical")
	}

	b1Hash := b1.Header.Hash(cryptoprovider.Default, b1.Header.UnsignedBytes())
	orphaned, err = c.IsOrphaned(b1Hash)
	if err != nil {
		t.Fatalf("IsOrphaned(b1): %v", err)
	}
	if !orphaned {
		t.Fatalf("b1 lost the second reorg and must be marked orphaned")
	}

	a2Hash := a2.Header.Hash(cryptoprovider.Default, a2.Header.UnsignedBytes())
	if c.TipHash() != a2Hash {
		t.Fatalf("tip should be a2 after the second reorg")
	}
	if c.TipHeight() != 2 {
		t.Fatalf("TipHeight = %d, want 2", c.TipHeight())
	}
}

// capturePool records every transaction offered back to it, standing in
// for a wired mempool.
type capturePool struct {
	added []chain.Hash
}

func (p *capturePool) Add(tx chain.SignedTransaction, hash chain.Hash) error {
	p.added = append(p.added, hash)
	return nil
}

func TestTryReorganize_ReturnsRevertedTransactionsToMempool(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}
	altTip := buildChildBlock(t, genesis, 8, sender, recipient, 200, 0, 0, 5)

	pool := &capturePool{}
	r := New(c, DefaultConfig(), slog.Default())
	r.AttachMempool(pool)

	reorged, err := r.TryReorganize(context.Background(), []chain.Block{altTip}, 2000)
	if err != nil {
		t.Fatalf("TryReorganize: %v", err)
	}
	if !reorged {
		t.Fatalf("expected the heavier branch to win")
	}

	revertedTx := mainTip.Body.Transactions[0]
	wantHash := revertedTx.Hash(cryptoprovider.Default, revertedTx.UnsignedBytes())
	if len(pool.added) != 1 || pool.added[0] != wantHash {
		t.Fatalf("expected exactly the reverted block's transaction back in the pool, got %v", pool.added)
	}
}

func TestTryReorganize_PublishesEventOnSuccess(t *testing.T) {
	c, genesis, sender, recipient := newTestSetup(t)
	mainTip := buildChildBlock(t, genesis, 9, sender, recipient, 100, 0, 0, 1)
	if err := c.ApplyBlock(context.Background(), mainTip); err != nil {
		t.Fatalf("ApplyBlock(main): %v", err)
	}
	altTip := buildChildBlock(t, genesis, 8, sender, recipient, 50, 0, 0, 9)

	r := New(c, DefaultConfig(), slog.Default())
	events := make(chan Event, 1)
	r.Subscribe(events)

	if _, err := r.TryReorganize(context.Background(), []chain.Block{altTip}, 4242); err != nil {
		t.Fatalf("TryReorganize: %v", err)
	}

	select {
	case ev := <-events:
		if ev.NewTipHeight != 1 || ev.OldTipHeight != 1 || ev.Timestamp != 4242 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected a reorg event to be published")
	}
}
