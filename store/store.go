// Package store is the bbolt-backed implementation of package storage's
// interfaces: one bucket per logical column, created on first open, with
// cross-column writes running inside a single bbolt update transaction.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/storage"
)

var (
	bucketBlocks   = []byte("blocks_by_hash")
	bucketOrphan   = []byte("orphaned_by_hash")
	bucketMetadata = []byte("metadata")
	bucketCumDiff  = []byte("cumulative_difficulty_by_hash")
	bucketAccounts = []byte("accounts_by_pubkey")
	bucketTxIndex  = []byte("tx_location_by_hash")
)

var allBuckets = [][]byte{bucketBlocks, bucketOrphan, bucketMetadata, bucketCumDiff, bucketAccounts, bucketTxIndex}

const (
	keyBestBlockHash = "best_block_hash"
	keyChainHeight   = "chain_height"
)

// DB opens the bbolt database backing a single chain instance.
type DB struct {
	bdb *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures every
// column's bucket exists.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &DB{bdb: bdb}, nil
}

// Close closes the underlying bbolt file.
func (d *DB) Close() error {
	return d.bdb.Close()
}

// Blocks returns a standalone view of the block column, each call opening
// its own bbolt transaction.
func (d *DB) Blocks() storage.Blocks { return &blocksCol{bdb: d.bdb} }

// Metadata returns a standalone view of the metadata column.
func (d *DB) Metadata() storage.Metadata { return &metadataCol{bdb: d.bdb} }

// Accounts returns a standalone view of the account column.
func (d *DB) Accounts() storage.Accounts { return &accountsCol{bdb: d.bdb} }

// TransactionIndex returns a standalone view of the transaction index.
func (d *DB) TransactionIndex() storage.TransactionIndex { return &txIndexCol{bdb: d.bdb} }

// WriteBatch runs fn inside a single bbolt read-write transaction spanning
// every column, so a caller's multi-column mutation (ApplyBlock, reorg
// revert/reapply) is atomic: any error aborts the whole transaction.
func (d *DB) WriteBatch(fn func(storage.Batch) error) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return fn(&batch{tx: tx})
	})
}

type batch struct{ tx *bolt.Tx }

func (b *batch) Blocks() storage.Blocks                     { return &blocksCol{tx: b.tx} }
func (b *batch) Metadata() storage.Metadata                 { return &metadataCol{tx: b.tx} }
func (b *batch) Accounts() storage.Accounts                 { return &accountsCol{tx: b.tx} }
func (b *batch) TransactionIndex() storage.TransactionIndex { return &txIndexCol{tx: b.tx} }

// view runs fn against either the column's bound transaction (batch mode)
// or a fresh bbolt view/update transaction (standalone mode).
func view(bdb *bolt.DB, tx *bolt.Tx, fn func(*bolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return bdb.View(func(t *bolt.Tx) error { return fn(t) })
}

func update(bdb *bolt.DB, tx *bolt.Tx, fn func(*bolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return bdb.Update(func(t *bolt.Tx) error { return fn(t) })
}

type blocksCol struct {
	bdb *bolt.DB
	tx  *bolt.Tx
}

func (c *blocksCol) Put(hash chain.Hash, raw []byte) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketBlocks).Put(hash[:], raw)
	})
}

func (c *blocksCol) Get(hash chain.Hash) ([]byte, error) {
	var out []byte
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return fmt.Errorf("block %x not found", hash)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (c *blocksCol) MarkOrphaned(hash chain.Hash) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketOrphan).Put(hash[:], []byte{1})
	})
}

func (c *blocksCol) MarkCanonical(hash chain.Hash) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketOrphan).Delete(hash[:])
	})
}

func (c *blocksCol) IsOrphaned(hash chain.Hash) (bool, error) {
	var orphaned bool
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		orphaned = t.Bucket(bucketOrphan).Get(hash[:]) != nil
		return nil
	})
	return orphaned, err
}

type metadataCol struct {
	bdb *bolt.DB
	tx  *bolt.Tx
}

func (c *metadataCol) BestBlockHash() (chain.Hash, error) {
	var h chain.Hash
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketMetadata).Get([]byte(keyBestBlockHash))
		copy(h[:], v)
		return nil
	})
	return h, err
}

func (c *metadataCol) SetBestBlockHash(h chain.Hash) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketMetadata).Put([]byte(keyBestBlockHash), h[:])
	})
}

func (c *metadataCol) ChainHeight() (int64, error) {
	var height int64
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketMetadata).Get([]byte(keyChainHeight))
		if len(v) == 8 {
			height = int64(binary.LittleEndian.Uint64(v))
		}
		return nil
	})
	return height, err
}

func (c *metadataCol) SetChainHeight(height int64) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(height))
		return t.Bucket(bucketMetadata).Put([]byte(keyChainHeight), buf[:])
	})
}

func (c *metadataCol) CumulativeDifficulty(hash chain.Hash) (int64, bool, error) {
	var value int64
	var found bool
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketCumDiff).Get(hash[:])
		if v == nil {
			return nil
		}
		found = true
		value = int64(binary.LittleEndian.Uint64(v))
		return nil
	})
	return value, found, err
}

func (c *metadataCol) SetCumulativeDifficulty(hash chain.Hash, value int64) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(value))
		return t.Bucket(bucketCumDiff).Put(hash[:], buf[:])
	})
}

type accountsCol struct {
	bdb *bolt.DB
	tx  *bolt.Tx
}

func encodeAccount(s chain.AccountState) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.Balance))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.Nonce))
	return buf[:]
}

func decodeAccount(b []byte) chain.AccountState {
	if len(b) != 16 {
		return chain.AccountState{}
	}
	return chain.AccountState{
		Balance: int64(binary.LittleEndian.Uint64(b[0:8])),
		Nonce:   int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func (c *accountsCol) Get(addr chain.PubKey) (chain.AccountState, error) {
	var s chain.AccountState
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketAccounts).Get(addr[:])
		if v != nil {
			s = decodeAccount(v)
		}
		return nil
	})
	return s, err
}

func (c *accountsCol) Put(addr chain.PubKey, s chain.AccountState) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketAccounts).Put(addr[:], encodeAccount(s))
	})
}

func (c *accountsCol) Iterate(fn func(addr chain.PubKey, state chain.AccountState) error) error {
	return view(c.bdb, c.tx, func(t *bolt.Tx) error {
		cur := t.Bucket(bucketAccounts).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var addr chain.PubKey
			copy(addr[:], k)
			if err := fn(addr, decodeAccount(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

type txIndexCol struct {
	bdb *bolt.DB
	tx  *bolt.Tx
}

func encodeLocation(loc storage.TxLocation) []byte {
	buf := make([]byte, 0, 32+8+4)
	buf = append(buf, loc.BlockHash[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(loc.BlockHeight))
	buf = append(buf, tmp8[:]...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(loc.TxIndex))
	buf = append(buf, tmp4[:]...)
	return buf
}

func decodeLocation(b []byte) (storage.TxLocation, bool) {
	if len(b) != 32+8+4 {
		return storage.TxLocation{}, false
	}
	var loc storage.TxLocation
	copy(loc.BlockHash[:], b[0:32])
	loc.BlockHeight = int64(binary.LittleEndian.Uint64(b[32:40]))
	loc.TxIndex = int(binary.LittleEndian.Uint32(b[40:44]))
	return loc, true
}

func (c *txIndexCol) Index(txHash chain.Hash, loc storage.TxLocation) error {
	return update(c.bdb, c.tx, func(t *bolt.Tx) error {
		return t.Bucket(bucketTxIndex).Put(txHash[:], encodeLocation(loc))
	})
}

func (c *txIndexCol) GetLocation(txHash chain.Hash) (storage.TxLocation, bool, error) {
	var loc storage.TxLocation
	var found bool
	err := view(c.bdb, c.tx, func(t *bolt.Tx) error {
		v := t.Bucket(bucketTxIndex).Get(txHash[:])
		if v == nil {
			return nil
		}
		loc, found = decodeLocation(v)
		return nil
	})
	return loc, found, err
}
