package codec

import "spacetime.dev/node/chain"

// EncodeTransactionUnsigned serializes the 204-byte unsigned prefix of a
// transaction: every field the transaction hash and sender signature cover.
func EncodeTransactionUnsigned(tx chain.UnsignedTransaction) []byte {
	out := make([]byte, 0, chain.TxUnsignedSize)
	out = putU8(out, tx.Version)
	out = append(out, tx.Sender[:]...)
	out = append(out, tx.Recipient[:]...)
	out = putI64le(out, tx.Amount)
	out = putI64le(out, tx.Nonce)
	out = putI64le(out, tx.Fee)
	return out
}

// EncodeTransaction serializes the full 268-byte transaction, unsigned
// prefix followed by the (possibly all-zero) signature.
func EncodeTransaction(tx chain.SignedTransaction) []byte {
	out := make([]byte, 0, chain.TxSignedSize)
	out = append(out, EncodeTransactionUnsigned(tx.UnsignedTransaction)...)
	out = append(out, tx.Signature[:]...)
	return out
}

func decodeTransactionUnsigned(b []byte, off *int) (chain.UnsignedTransaction, error) {
	var tx chain.UnsignedTransaction
	var err error
	if tx.Version, err = readU8(b, off); err != nil {
		return tx, err
	}
	if tx.Sender, err = readPubKey(b, off); err != nil {
		return tx, err
	}
	if tx.Recipient, err = readPubKey(b, off); err != nil {
		return tx, err
	}
	if tx.Amount, err = readI64le(b, off); err != nil {
		return tx, err
	}
	if tx.Nonce, err = readI64le(b, off); err != nil {
		return tx, err
	}
	if tx.Fee, err = readI64le(b, off); err != nil {
		return tx, err
	}
	return tx, nil
}

// DecodeTransaction parses the full 268-byte transaction.
func DecodeTransaction(b []byte) (chain.SignedTransaction, error) {
	off := 0
	unsigned, err := decodeTransactionUnsigned(b, &off)
	if err != nil {
		return chain.SignedTransaction{}, err
	}
	prefix := append([]byte(nil), b[:off]...)
	sig, err := readSignature(b, &off)
	if err != nil {
		return chain.SignedTransaction{}, err
	}
	return unsigned.Sign(sig, prefix), nil
}
