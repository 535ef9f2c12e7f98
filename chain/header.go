package chain

import (
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/cryptoprovider"
)

// UnsignedBlockHeader is a block header before it carries a miner signature.
// Its fields are exactly the 226-byte unsigned serialization defined by the
// wire layout; nothing outside this struct participates in the block hash.
type UnsignedBlockHeader struct {
	Version     uint8
	ParentHash  Hash
	Height      int64
	Timestamp   int64
	Difficulty  int64
	Epoch       int64
	Challenge   Hash
	PlotRoot    Hash
	ProofScore  Hash
	TxRoot      Hash
	MinerID     PubKey
}

// NewUnsignedBlockHeader validates field ranges and returns the header, or
// the first invariant violation found. Genesis (height 0) requires a
// zero parent hash; every other height requires a non-zero one.
func NewUnsignedBlockHeader(h UnsignedBlockHeader) (*UnsignedBlockHeader, error) {
	if h.Version != CurrentVersion {
		return nil, chainerr.New(chainerr.KindUnsupportedVersion, "unsupported header version")
	}
	if err := checkNonNegative(chainerr.KindInvalidHeight, "height", h.Height); err != nil {
		return nil, err
	}
	if err := checkNonNegative(chainerr.KindInvalidTimestamp, "timestamp", h.Timestamp); err != nil {
		return nil, err
	}
	if err := checkNonNegative(chainerr.KindInvalidDifficulty, "difficulty", h.Difficulty); err != nil {
		return nil, err
	}
	if err := checkNonNegative(chainerr.KindInvalidEpoch, "epoch", h.Epoch); err != nil {
		return nil, err
	}
	if h.Height == 0 && h.ParentHash != ZeroHash {
		return nil, chainerr.New(chainerr.KindInvalidParentHash, "genesis must have a zero parent hash")
	}
	if h.Height != 0 && h.ParentHash == ZeroHash {
		return nil, chainerr.New(chainerr.KindInvalidParentHash, "non-genesis header must reference a parent")
	}
	cp := h
	return &cp, nil
}

// SignedBlockHeader pairs an UnsignedBlockHeader with its miner signature.
// The unsigned bytes are frozen at Sign time so the block hash is always
// computed over exactly the prefix that was signed, never a re-derived one.
type SignedBlockHeader struct {
	UnsignedBlockHeader
	Signature     Signature
	unsignedBytes []byte
}

// Sign attaches sig to h, producing a SignedBlockHeader. unsignedBytes is the
// exact 226-byte unsigned serialization this signature was computed over;
// callers obtain it from codec.EncodeHeaderUnsigned before signing.
func (h UnsignedBlockHeader) Sign(sig Signature, unsignedBytes []byte) SignedBlockHeader {
	buf := make([]byte, len(unsignedBytes))
	copy(buf, unsignedBytes)
	return SignedBlockHeader{UnsignedBlockHeader: h, Signature: sig, unsignedBytes: buf}
}

// IsSigned reports whether a non-empty signature has been attached. An
// empty signature means the header was parsed or constructed without ever
// being signed; the block validator treats that as structurally unsigned
// rather than attempting cryptographic verification.
func (s SignedBlockHeader) IsSigned() bool {
	return s.Signature != Signature{}
}

// UnsignedBytes returns the exact bytes the signature was computed over, if
// known (set by Sign or by the codec on parse). It is nil for a header built
// without ever calling Sign or going through the decoder.
func (s SignedBlockHeader) UnsignedBytes() []byte {
	return s.unsignedBytes
}

// WithUnsignedBytes returns a copy of s with its cached unsigned prefix set;
// used by the codec after parsing a signed header off the wire.
func (s SignedBlockHeader) WithUnsignedBytes(b []byte) SignedBlockHeader {
	s.unsignedBytes = append([]byte(nil), b...)
	return s
}

// Hash returns the block hash: the hasher's digest of the unsigned prefix.
// It is defined only on signed headers per the builder design, but is
// independent of the signature's value.
func (s SignedBlockHeader) Hash(hasher cryptoprovider.HashFunction, unsignedBytes []byte) Hash {
	if unsignedBytes == nil {
		unsignedBytes = s.unsignedBytes
	}
	return Hash(hasher.Compute(unsignedBytes))
}
