// Package chainstate implements the account state machine: applying
// blocks atomically to the account map, snapshot/revert via a reverse
// write-log, and the consensus-context view the block validator consults.
package chainstate

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/codec"
	"spacetime.dev/node/cryptoprovider"
	"spacetime.dev/node/difficulty"
	"spacetime.dev/node/epoch"
	"spacetime.dev/node/storage"
)

// undoEntry records an account's value immediately before the first
// mutation applied since the enclosing snapshot was created.
type undoEntry struct {
	addr chain.PubKey
	prev chain.AccountState
}

// Chain is the Chain State Manager. All mutating operations serialize on
// mu (single-writer discipline); reads go straight to storage and may run
// concurrently with each other, with bbolt's own view transactions keeping
// them consistent against in-flight writes.
type Chain struct {
	mu      sync.Mutex
	store   storage.Store
	epoch   *epoch.Manager
	diffCfg difficulty.Config
	log     *slog.Logger

	currentDifficulty int64

	undoLog        []undoEntry
	snapshotMarks  map[int]int
	nextSnapshotID int

	// blockUndoMarks records, for each applied block, the undoLog position
	// immediately before that block's entries were appended, letting the
	// reorganizer roll back one block at a time instead of only to an
	// explicitly held snapshot.
	blockUndoMarks map[chain.Hash]int
}

// New constructs a Chain State Manager over store, using mgr for the
// epoch/challenge context, diffCfg for the retarget bounds, and
// initialDifficulty as the difficulty expected of the next block until an
// ApplyBlock or external retarget changes it. logger may be nil, in which
// case slog.Default() is used.
func New(store storage.Store, mgr *epoch.Manager, diffCfg difficulty.Config, initialDifficulty int64, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		store:             store,
		epoch:             mgr,
		diffCfg:           diffCfg,
		log:               logger,
		currentDifficulty: initialDifficulty,
		snapshotMarks:     make(map[int]int),
		blockUndoMarks:    make(map[chain.Hash]int),
	}
}

// SetExpectedDifficulty overrides the difficulty the next block must
// carry; called by whatever schedules difficulty.Retarget at adjustment
// boundaries.
func (c *Chain) SetExpectedDifficulty(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentDifficulty = d
}

// GetBalance returns addr's balance, defaulting to 0 for an absent
// account.
func (c *Chain) GetBalance(addr chain.PubKey) (int64, error) {
	s, err := c.store.Accounts().Get(addr)
	if err != nil {
		return 0, err
	}
	return s.Balance, nil
}

// GetNonce returns addr's nonce, defaulting to 0 for an absent account.
func (c *Chain) GetNonce(addr chain.PubKey) (int64, error) {
	s, err := c.store.Accounts().Get(addr)
	if err != nil {
		return 0, err
	}
	return s.Nonce, nil
}

// GetAccount implements txvalidate.AccountReader.
func (c *Chain) GetAccount(addr chain.PubKey) (chain.AccountState, error) {
	return c.store.Accounts().Get(addr)
}

// TipHash, TipHeight, ExpectedDifficulty, ExpectedEpoch, and
// ExpectedChallenge together implement blockvalidate.ChainState.

func (c *Chain) TipHash() chain.Hash {
	h, err := c.store.Metadata().BestBlockHash()
	if err != nil {
		return chain.Hash{}
	}
	return h
}

func (c *Chain) TipHeight() int64 {
	h, err := c.store.Metadata().ChainHeight()
	if err != nil {
		return 0
	}
	return h
}

// ExpectedDifficulty returns the difficulty the next block must carry.
// Retargeting is driven externally (by whatever schedules
// difficulty.Retarget at adjustment-interval boundaries); absent an
// override this simply reports the tip block's own difficulty, i.e. "no
// change" between adjustment points.
func (c *Chain) ExpectedDifficulty() int64 {
	return c.currentDifficulty
}

func (c *Chain) ExpectedEpoch() int64 {
	e, _, _ := c.epoch.Current()
	return e
}

func (c *Chain) ExpectedChallenge() chain.Hash {
	_, ch, _ := c.epoch.Current()
	return ch
}

// simulate replays a block's transactions against an in-memory copy of the
// account rows it touches and reports whether every transaction would
// succeed, without mutating storage.
func (c *Chain) simulate(block chain.Block) error {
	touched := make(map[chain.PubKey]chain.AccountState)
	get := func(addr chain.PubKey) (chain.AccountState, error) {
		if s, ok := touched[addr]; ok {
			return s, nil
		}
		s, err := c.store.Accounts().Get(addr)
		if err != nil {
			return chain.AccountState{}, err
		}
		touched[addr] = s
		return s, nil
	}

	for _, tx := range block.Body.Transactions {
		sender, err := get(tx.Sender)
		if err != nil {
			return err
		}
		if sender.Nonce != tx.Nonce {
			return chainerr.New(chainerr.KindInvalidNonce, "nonce does not match account state")
		}
		if sender.Balance < tx.Amount+tx.Fee {
			return chainerr.New(chainerr.KindInsufficientBalance, "insufficient balance")
		}
		recipient, err := get(tx.Recipient)
		if err != nil {
			return err
		}
		miner, err := get(block.Header.MinerID)
		if err != nil {
			return err
		}

		sender.Balance -= tx.Amount + tx.Fee
		sender.Nonce++
		recipient.Balance += tx.Amount
		miner.Balance += tx.Fee

		touched[tx.Sender] = sender
		touched[tx.Recipient] = recipient
		touched[block.Header.MinerID] = miner
	}
	return nil
}

// ValidateBlockState reports whether applying block would succeed against
// current account state, without mutating it.
func (c *Chain) ValidateBlockState(block chain.Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simulate(block) == nil
}

// ApplyBlock atomically applies block's transactions in body order:
// deduct amount+fee from sender, increment sender nonce, credit amount to
// recipient, credit fee to miner. The whole operation is all-or-nothing
// with respect to storage; a failed simulate aborts before any write.
func (c *Chain) ApplyBlock(ctx context.Context, block chain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.simulate(block); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidBlockState, "block would leave account state invalid", err)
	}

	blockHash := block.Header.Hash(cryptoprovider.Default, block.Header.UnsignedBytes())
	parentCum, _, err := c.store.Metadata().CumulativeDifficulty(block.Header.ParentHash)
	if err != nil {
		return err
	}
	undoMark := len(c.undoLog)

	err = c.store.WriteBatch(func(b storage.Batch) error {
		accounts := b.Accounts()
		firstSeen := make(map[chain.PubKey]bool)
		record := func(addr chain.PubKey, prev chain.AccountState) {
			if !firstSeen[addr] {
				firstSeen[addr] = true
				c.undoLog = append(c.undoLog, undoEntry{addr: addr, prev: prev})
			}
		}

		for i, tx := range block.Body.Transactions {
			sender, err := accounts.Get(tx.Sender)
			if err != nil {
				return err
			}
			record(tx.Sender, sender)
			recipient, err := accounts.Get(tx.Recipient)
			if err != nil {
				return err
			}
			record(tx.Recipient, recipient)
			miner, err := accounts.Get(block.Header.MinerID)
			if err != nil {
				return err
			}
			record(block.Header.MinerID, miner)

			sender.Balance -= tx.Amount + tx.Fee
			sender.Nonce++
			recipient.Balance += tx.Amount
			miner.Balance += tx.Fee

			if err := accounts.Put(tx.Sender, sender); err != nil {
				return err
			}
			if err := accounts.Put(tx.Recipient, recipient); err != nil {
				return err
			}
			if err := accounts.Put(block.Header.MinerID, miner); err != nil {
				return err
			}

			if err := b.TransactionIndex().Index(tx.Hash(cryptoprovider.Default, tx.UnsignedBytes()), storage.TxLocation{
				BlockHash:   block.Header.Hash(cryptoprovider.Default, block.Header.UnsignedBytes()),
				BlockHeight: block.Header.Height,
				TxIndex:     i,
			}); err != nil {
				return err
			}
		}

		if err := b.Blocks().Put(blockHash, codec.EncodeBlock(block)); err != nil {
			return err
		}
		// A block applied as the new tip is canonical by definition; this
		// clears the orphan flag when a reorg re-applies a previously
		// reverted block.
		if err := b.Blocks().MarkCanonical(blockHash); err != nil {
			return err
		}
		if err := b.Metadata().SetBestBlockHash(blockHash); err != nil {
			return err
		}
		if err := b.Metadata().SetChainHeight(block.Header.Height); err != nil {
			return err
		}
		if err := b.Metadata().SetCumulativeDifficulty(blockHash, parentCum+block.Header.Difficulty); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.log.Error("apply block failed", "error", err)
		return err
	}
	c.blockUndoMarks[blockHash] = undoMark
	c.currentDifficulty = block.Header.Difficulty
	c.log.Info("applied block", "height", block.Header.Height)
	return nil
}

// Block returns the decoded block stored under hash.
func (c *Chain) Block(hash chain.Hash) (chain.Block, error) {
	raw, err := c.store.Blocks().Get(hash)
	if err != nil {
		return chain.Block{}, err
	}
	return codec.DecodeBlock(raw)
}

// IsOrphaned reports whether hash has been superseded by a reorg.
func (c *Chain) IsOrphaned(hash chain.Hash) (bool, error) {
	return c.store.Blocks().IsOrphaned(hash)
}

// CumulativeDifficulty returns the cumulative difficulty recorded for hash
// (its own difficulty plus every ancestor's, genesis included) and whether it
// has been recorded at all.
func (c *Chain) CumulativeDifficulty(hash chain.Hash) (int64, bool, error) {
	return c.store.Metadata().CumulativeDifficulty(hash)
}

// RevertTip undoes the current tip block, restoring the account map to its
// pre-block state and moving the chain pointer back to the block's parent.
// The reverted block is marked orphaned and its undo record consumed; it
// returns the block that was reverted.
func (c *Chain) RevertTip(ctx context.Context) (chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return chain.Block{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tipHash, err := c.store.Metadata().BestBlockHash()
	if err != nil {
		return chain.Block{}, err
	}
	raw, err := c.store.Blocks().Get(tipHash)
	if err != nil {
		return chain.Block{}, err
	}
	blk, err := codec.DecodeBlock(raw)
	if err != nil {
		return chain.Block{}, err
	}
	mark, ok := c.blockUndoMarks[tipHash]
	if !ok {
		return chain.Block{}, chainerr.New(chainerr.KindUnknownSnapshot, "no undo record for tip block")
	}

	err = c.store.WriteBatch(func(b storage.Batch) error {
		accounts := b.Accounts()
		for i := len(c.undoLog) - 1; i >= mark; i-- {
			e := c.undoLog[i]
			if err := accounts.Put(e.addr, e.prev); err != nil {
				return err
			}
		}
		if err := b.Blocks().MarkOrphaned(tipHash); err != nil {
			return err
		}
		if err := b.Metadata().SetBestBlockHash(blk.Header.ParentHash); err != nil {
			return err
		}
		if err := b.Metadata().SetChainHeight(blk.Header.Height - 1); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return chain.Block{}, err
	}
	c.undoLog = c.undoLog[:mark]
	delete(c.blockUndoMarks, tipHash)

	if parentRaw, perr := c.store.Blocks().Get(blk.Header.ParentHash); perr == nil {
		if parentBlk, derr := codec.DecodeBlock(parentRaw); derr == nil {
			c.currentDifficulty = parentBlk.Header.Difficulty
		}
	}
	c.log.Info("reverted tip block", "height", blk.Header.Height)
	return blk, nil
}

// ComputeStateRoot returns a deterministic 32-byte digest over the account
// map in address-ascending order, used only to detect divergence between
// replicas.
func (c *Chain) ComputeStateRoot() (chain.Hash, error) {
	h := sha256.New()
	err := c.store.Accounts().Iterate(func(addr chain.PubKey, state chain.AccountState) error {
		h.Write(addr[:])
		var buf [16]byte
		putI64(buf[0:8], state.Balance)
		putI64(buf[8:16], state.Nonce)
		h.Write(buf[:])
		return nil
	})
	if err != nil {
		return chain.Hash{}, err
	}
	var out chain.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// CheckConsistency reports an error if any account row has a negative
// balance or nonce.
func (c *Chain) CheckConsistency() error {
	return c.store.Accounts().Iterate(func(addr chain.PubKey, state chain.AccountState) error {
		if state.Balance < 0 || state.Nonce < 0 {
			return chainerr.New(chainerr.KindInvalidBlockState, "account has a negative balance or nonce")
		}
		return nil
	})
}

// CreateSnapshot marks the current point in the undo log and returns an id
// RevertToSnapshot can later roll back to.
func (c *Chain) CreateSnapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSnapshotID
	c.nextSnapshotID++
	c.snapshotMarks[id] = len(c.undoLog)
	return id
}

// RevertToSnapshot restores the account map to its state when id was
// created, applying undo entries in reverse order.
func (c *Chain) RevertToSnapshot(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	mark, ok := c.snapshotMarks[id]
	if !ok {
		return chainerr.New(chainerr.KindUnknownSnapshot, "unknown snapshot id")
	}
	err := c.store.WriteBatch(func(b storage.Batch) error {
		accounts := b.Accounts()
		for i := len(c.undoLog) - 1; i >= mark; i-- {
			e := c.undoLog[i]
			if err := accounts.Put(e.addr, e.prev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.undoLog = c.undoLog[:mark]
	delete(c.snapshotMarks, id)
	return nil
}

// ReleaseSnapshot discards id without reverting; it no longer accepts a
// revert call.
func (c *Chain) ReleaseSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshotMarks, id)
}

func putI64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
