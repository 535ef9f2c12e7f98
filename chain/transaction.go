package chain

import (
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/cryptoprovider"
)

// UnsignedTransaction is a transaction before it carries a sender signature.
// Its fields are exactly the 204-byte unsigned serialization.
type UnsignedTransaction struct {
	Version   uint8
	Sender    PubKey
	Recipient PubKey
	Amount    int64
	Nonce     int64
	Fee       int64
}

// NewUnsignedTransaction validates field ranges and returns the
// transaction, or the first invariant violation found.
func NewUnsignedTransaction(tx UnsignedTransaction) (*UnsignedTransaction, error) {
	if tx.Version != CurrentVersion {
		return nil, chainerr.New(chainerr.KindUnsupportedVersion, "unsupported transaction version")
	}
	if tx.Sender == tx.Recipient {
		return nil, chainerr.New(chainerr.KindInvalidFieldRange, "sender and recipient must differ")
	}
	if tx.Amount <= 0 {
		return nil, chainerr.New(chainerr.KindInvalidFieldRange, "amount must be positive")
	}
	if err := checkNonNegative(chainerr.KindInvalidNonce, "nonce", tx.Nonce); err != nil {
		return nil, err
	}
	if err := checkNonNegative(chainerr.KindInvalidFieldRange, "fee", tx.Fee); err != nil {
		return nil, err
	}
	cp := tx
	return &cp, nil
}

// SignedTransaction pairs an UnsignedTransaction with its sender signature.
type SignedTransaction struct {
	UnsignedTransaction
	Signature     Signature
	unsignedBytes []byte
}

// Sign attaches sig to tx. unsignedBytes is the exact 204-byte unsigned
// serialization the signature was computed over.
func (tx UnsignedTransaction) Sign(sig Signature, unsignedBytes []byte) SignedTransaction {
	buf := make([]byte, len(unsignedBytes))
	copy(buf, unsignedBytes)
	return SignedTransaction{UnsignedTransaction: tx, Signature: sig, unsignedBytes: buf}
}

// IsSigned reports whether a non-empty signature has been attached.
func (tx SignedTransaction) IsSigned() bool {
	return tx.Signature != Signature{}
}

// UnsignedBytes returns the exact bytes the signature was computed over, if
// known.
func (tx SignedTransaction) UnsignedBytes() []byte {
	return tx.unsignedBytes
}

// WithUnsignedBytes returns a copy of tx with its cached unsigned prefix
// set; used by the codec after parsing a signed transaction off the wire.
func (tx SignedTransaction) WithUnsignedBytes(b []byte) SignedTransaction {
	tx.unsignedBytes = append([]byte(nil), b...)
	return tx
}

// Hash returns the transaction hash: the hasher's digest of the unsigned
// prefix.
func (tx SignedTransaction) Hash(hasher cryptoprovider.HashFunction, unsignedBytes []byte) Hash {
	if unsignedBytes == nil {
		unsignedBytes = tx.unsignedBytes
	}
	return Hash(hasher.Compute(unsignedBytes))
}
