// Package codec implements the fixed-layout binary serialization for every
// wire and storage value in Spacetime: block headers, transactions, proofs,
// and bodies. Each fixed-layout encoder preallocates its exact byte budget
// (the body and block encoders preallocate an estimate) and writes fields
// in wire order; each decoder walks the same layout with a cursor
// offset and returns a typed chainerr on truncation.
package codec

import "spacetime.dev/node/chain"

// EncodeHeaderUnsigned serializes the 226-byte unsigned prefix of a header:
// everything the block hash and the miner's signature are computed over.
func EncodeHeaderUnsigned(h chain.UnsignedBlockHeader) []byte {
	out := make([]byte, 0, chain.HeaderUnsignedSize)
	out = putU8(out, h.Version)
	out = append(out, h.ParentHash[:]...)
	out = putI64le(out, h.Height)
	out = putI64le(out, h.Timestamp)
	out = putI64le(out, h.Difficulty)
	out = putI64le(out, h.Epoch)
	out = append(out, h.Challenge[:]...)
	out = append(out, h.PlotRoot[:]...)
	out = append(out, h.ProofScore[:]...)
	out = append(out, h.TxRoot[:]...)
	out = append(out, h.MinerID[:]...)
	return out
}

// EncodeHeader serializes the full 290-byte header, unsigned prefix
// followed by the (possibly all-zero) signature.
func EncodeHeader(h chain.SignedBlockHeader) []byte {
	out := make([]byte, 0, chain.HeaderSignedSize)
	out = append(out, EncodeHeaderUnsigned(h.UnsignedBlockHeader)...)
	out = append(out, h.Signature[:]...)
	return out
}

// decodeHeaderUnsigned parses the 226-byte unsigned prefix starting at
// *off, advancing *off past the bytes it consumed.
func decodeHeaderUnsigned(b []byte, off *int) (chain.UnsignedBlockHeader, error) {
	var h chain.UnsignedBlockHeader
	var err error
	if h.Version, err = readU8(b, off); err != nil {
		return h, err
	}
	if h.ParentHash, err = readHash(b, off); err != nil {
		return h, err
	}
	if h.Height, err = readI64le(b, off); err != nil {
		return h, err
	}
	if h.Timestamp, err = readI64le(b, off); err != nil {
		return h, err
	}
	if h.Difficulty, err = readI64le(b, off); err != nil {
		return h, err
	}
	if h.Epoch, err = readI64le(b, off); err != nil {
		return h, err
	}
	if h.Challenge, err = readHash(b, off); err != nil {
		return h, err
	}
	if h.PlotRoot, err = readHash(b, off); err != nil {
		return h, err
	}
	if h.ProofScore, err = readHash(b, off); err != nil {
		return h, err
	}
	if h.TxRoot, err = readHash(b, off); err != nil {
		return h, err
	}
	if h.MinerID, err = readPubKey(b, off); err != nil {
		return h, err
	}
	return h, nil
}

// DecodeHeader parses the full 290-byte header, returning a
// SignedBlockHeader whose UnsignedBytes are the exact prefix consumed (an
// all-zero Signature means the header was not yet signed).
func DecodeHeader(b []byte) (chain.SignedBlockHeader, error) {
	off := 0
	unsigned, err := decodeHeaderUnsigned(b, &off)
	if err != nil {
		return chain.SignedBlockHeader{}, err
	}
	prefix := append([]byte(nil), b[:off]...)
	sig, err := readSignature(b, &off)
	if err != nil {
		return chain.SignedBlockHeader{}, err
	}
	return unsigned.Sign(sig, prefix), nil
}
