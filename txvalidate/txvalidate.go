// Package txvalidate implements the per-transaction validation pipeline
// and the in-block overlay of per-sender (balance, nonce) rows used to
// detect double-spends across the transactions of a single block.
package txvalidate

import (
	"encoding/hex"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/cryptoprovider"
)

// AccountReader is the minimal read surface the validator needs from
// whatever storage/state layer the caller wires in.
type AccountReader interface {
	GetAccount(addr chain.PubKey) (chain.AccountState, error)
}

// TransactionIndex reports whether a transaction hash has already been
// recorded. Errors from optional lookups like this are swallowed by the
// caller per the error-handling design ("treated as no information").
type TransactionIndex interface {
	GetLocation(txHash chain.Hash) (found bool, err error)
}

// Config sets the fee bounds, the per-block transaction cap, and whether
// zero-fee transactions are admitted.
type Config struct {
	MinFee                int64
	MaxFee                int64
	MaxTransactionsPerBlock int
	Permissive            bool
}

// DefaultConfig returns permissive defaults suitable for a fresh devnet.
func DefaultConfig() Config {
	return Config{MinFee: 0, MaxFee: 1 << 62, MaxTransactionsPerBlock: 10_000, Permissive: true}
}

// Validate checks cfg's own invariants.
func (c Config) Validate() error {
	if c.MaxFee < c.MinFee {
		return chainerr.Precondition("max_fee must be >= min_fee")
	}
	if c.MaxTransactionsPerBlock <= 0 {
		return chainerr.Precondition("max_transactions_per_block must be positive")
	}
	return nil
}

// Validator validates individual transactions against account state and an
// optional transaction index.
type Validator struct {
	cfg      Config
	verifier cryptoprovider.SignatureVerifier
	accounts AccountReader
	index    TransactionIndex
}

// New builds a Validator.
func New(cfg Config, verifier cryptoprovider.SignatureVerifier, accounts AccountReader, index TransactionIndex) *Validator {
	return &Validator{cfg: cfg, verifier: verifier, accounts: accounts, index: index}
}

// Overlay tracks per-sender (balance, nonce) across the transactions of a
// single block, so that a later transaction in the same block observes the
// effect of an earlier one.
type Overlay struct {
	reader AccountReader
	rows   map[chain.PubKey]chain.AccountState
}

// NewOverlay creates an overlay reading through to reader on first miss.
func NewOverlay(reader AccountReader) *Overlay {
	return &Overlay{reader: reader, rows: make(map[chain.PubKey]chain.AccountState)}
}

// Get returns the overlay's view of addr, materializing it from the
// underlying reader on first access.
func (o *Overlay) Get(addr chain.PubKey) (chain.AccountState, error) {
	if s, ok := o.rows[addr]; ok {
		return s, nil
	}
	s, err := o.reader.GetAccount(addr)
	if err != nil {
		return chain.AccountState{}, err
	}
	o.rows[addr] = s
	return s, nil
}

func (o *Overlay) set(addr chain.PubKey, s chain.AccountState) {
	o.rows[addr] = s
}

// ValidateOne runs the single-transaction pipeline. overlay, if non-nil, is
// consulted (and updated on success) instead of going straight to storage,
// enabling in-block double-spend detection; pass nil to validate against
// storage alone.
func (v *Validator) ValidateOne(tx chain.SignedTransaction, overlay *Overlay) error {
	if !tx.IsSigned() {
		return chainerr.New(chainerr.KindBasicValidationFailed, "transaction is not signed")
	}
	if tx.Sender == tx.Recipient {
		return chainerr.New(chainerr.KindBasicValidationFailed, "sender and recipient must differ")
	}
	if tx.Amount <= 0 {
		return chainerr.New(chainerr.KindBasicValidationFailed, "amount must be positive")
	}
	if tx.Fee < 0 {
		return chainerr.New(chainerr.KindBasicValidationFailed, "fee must be non-negative")
	}
	if tx.Version != chain.CurrentVersion {
		return chainerr.New(chainerr.KindUnsupportedVersion, "unsupported transaction version")
	}
	if tx.Fee < v.cfg.MinFee && !(v.cfg.Permissive && tx.Fee == 0) {
		return chainerr.New(chainerr.KindFeeTooLow, "fee below minimum")
	}
	if tx.Fee > v.cfg.MaxFee {
		return chainerr.New(chainerr.KindFeeTooHigh, "fee above maximum")
	}

	// The transaction hash doubles as the signing digest: both are the
	// SHA-256 of the unsigned prefix.
	digest := tx.Hash(cryptoprovider.Default, tx.UnsignedBytes())
	ok, err := v.verifier.Verify(digest[:], tx.Signature[:], tx.Sender[:])
	if err != nil {
		return chainerr.Wrap(chainerr.KindInvalidTxSignature, "signature verification error: "+err.Error(), err)
	}
	if !ok {
		return chainerr.New(chainerr.KindInvalidTxSignature, "invalid signature")
	}

	if v.index != nil {
		if found, idxErr := v.index.GetLocation(digest); idxErr == nil && found {
			return chainerr.New(chainerr.KindDuplicateTx, "transaction already indexed: "+hex.EncodeToString(digest[:]))
		}
		// idxErr != nil is swallowed: the index is an optional, best-effort
		// lookup per the error-handling design.
	}

	var account chain.AccountState
	if overlay != nil {
		account, err = overlay.Get(tx.Sender)
	} else {
		account, err = v.accounts.GetAccount(tx.Sender)
	}
	if err != nil {
		return err
	}
	if account.Nonce != tx.Nonce {
		return chainerr.New(chainerr.KindInvalidNonce, "nonce does not match account state")
	}
	if account.Balance < tx.Amount+tx.Fee {
		return chainerr.New(chainerr.KindInsufficientBalance, "insufficient balance")
	}

	if overlay != nil {
		overlay.set(tx.Sender, chain.AccountState{
			Balance: account.Balance - tx.Amount - tx.Fee,
			Nonce:   account.Nonce + 1,
		})
	}
	return nil
}

// ValidateBatch validates txs sequentially against a shared overlay,
// stopping further checks after the first failure but returning one result
// per input (tail entries after the first failure are marked failed with
// the same error, since the pipeline never ran for them).
func (v *Validator) ValidateBatch(txs []chain.SignedTransaction, overlay *Overlay) ([]error, error) {
	if len(txs) > v.cfg.MaxTransactionsPerBlock {
		return nil, chainerr.New(chainerr.KindTooManyTx, "too many transactions in block")
	}
	results := make([]error, len(txs))
	var firstErr error
	for i, tx := range txs {
		if firstErr != nil {
			results[i] = firstErr
			continue
		}
		if err := v.ValidateOne(tx, overlay); err != nil {
			firstErr = err
			results[i] = err
			continue
		}
		results[i] = nil
	}
	return results, nil
}
