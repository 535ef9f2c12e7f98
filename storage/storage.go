// Package storage defines the four logical columns the chain state
// manager, reorganizer, and block validator read and write through,
// independent of any concrete engine. Package store provides the
// bbolt-backed implementation.
package storage

import "spacetime.dev/node/chain"

// BlockStatus records whether a stored block is canonical or has been
// superseded by a reorg.
type BlockStatus uint8

const (
	BlockStatusUnknown BlockStatus = iota
	BlockStatusCanonical
	BlockStatusOrphaned
)

// Blocks is the block-bytes column.
type Blocks interface {
	Put(hash chain.Hash, raw []byte) error
	Get(hash chain.Hash) ([]byte, error)
	MarkOrphaned(hash chain.Hash) error
	// MarkCanonical clears a previously set orphan flag, restoring the
	// block to the canonical chain; a no-op for blocks never orphaned.
	MarkCanonical(hash chain.Hash) error
	IsOrphaned(hash chain.Hash) (bool, error)
}

// Metadata is the chain-pointer and cumulative-difficulty column.
type Metadata interface {
	BestBlockHash() (chain.Hash, error)
	SetBestBlockHash(chain.Hash) error
	ChainHeight() (int64, error)
	SetChainHeight(int64) error
	CumulativeDifficulty(hash chain.Hash) (int64, bool, error)
	SetCumulativeDifficulty(hash chain.Hash, value int64) error
}

// Accounts is the address -> AccountState column.
type Accounts interface {
	Get(addr chain.PubKey) (chain.AccountState, error)
	Put(addr chain.PubKey, state chain.AccountState) error
	// Iterate calls fn for every account row in canonical (address
	// ascending) order; fn returning an error stops iteration early.
	Iterate(fn func(addr chain.PubKey, state chain.AccountState) error) error
}

// TxLocation records where a transaction was included.
type TxLocation struct {
	BlockHash   chain.Hash
	BlockHeight int64
	TxIndex     int
}

// TransactionIndex is the tx_hash -> location column.
type TransactionIndex interface {
	Index(txHash chain.Hash, loc TxLocation) error
	GetLocation(txHash chain.Hash) (TxLocation, bool, error)
}

// Store bundles the four columns plus the atomic cross-column write batch
// ApplyBlock and the reorganizer need.
type Store interface {
	Blocks() Blocks
	Metadata() Metadata
	Accounts() Accounts
	TransactionIndex() TransactionIndex

	// WriteBatch runs fn against a transactional view of all four columns;
	// if fn returns an error, none of its writes are observable afterward.
	WriteBatch(fn func(tx Batch) error) error

	Close() error
}

// Batch is the transactional view passed to WriteBatch.
type Batch interface {
	Blocks() Blocks
	Metadata() Metadata
	Accounts() Accounts
	TransactionIndex() TransactionIndex
}
