package codec

import "spacetime.dev/node/chain"

// EncodePlotMetadata serializes the fixed 73-byte plot metadata block.
func EncodePlotMetadata(m chain.PlotMetadata) []byte {
	out := make([]byte, 0, chain.PlotMetadataSize)
	out = putI64le(out, m.LeafCount)
	out = append(out, m.PlotID[:]...)
	out = append(out, m.PlotHeaderHash[:]...)
	out = putU8(out, m.Version)
	return out
}

func decodePlotMetadata(b []byte, off *int) (chain.PlotMetadata, error) {
	var m chain.PlotMetadata
	var err error
	if m.LeafCount, err = readI64le(b, off); err != nil {
		return m, err
	}
	if m.PlotID, err = readHash(b, off); err != nil {
		return m, err
	}
	if m.PlotHeaderHash, err = readHash(b, off); err != nil {
		return m, err
	}
	if m.Version, err = readU8(b, off); err != nil {
		return m, err
	}
	return m, nil
}

// EncodeBlockProof serializes a BlockProof: metadata, leaf value, leaf
// index, then the Merkle path and its orientation bits in lockstep.
func EncodeBlockProof(p chain.BlockProof) []byte {
	out := make([]byte, 0, chain.PlotMetadataSize+32+8+4+len(p.MerkleProofPath)*33)
	out = append(out, EncodePlotMetadata(p.PlotMetadata)...)
	out = append(out, p.LeafValue[:]...)
	out = putI64le(out, p.LeafIndex)
	out = putU32le(out, uint32(len(p.MerkleProofPath)))
	for _, sib := range p.MerkleProofPath {
		out = append(out, sib[:]...)
	}
	for _, bit := range p.OrientationBits {
		if bit {
			out = putU8(out, 1)
		} else {
			out = putU8(out, 0)
		}
	}
	return out
}

func decodeBlockProof(b []byte, off *int) (chain.BlockProof, error) {
	var p chain.BlockProof
	var err error
	if p.PlotMetadata, err = decodePlotMetadata(b, off); err != nil {
		return p, err
	}
	if p.LeafValue, err = readHash(b, off); err != nil {
		return p, err
	}
	if p.LeafIndex, err = readI64le(b, off); err != nil {
		return p, err
	}
	pathLen, err := readU32le(b, off)
	if err != nil {
		return p, err
	}
	p.MerkleProofPath = make([]chain.Hash, pathLen)
	for i := range p.MerkleProofPath {
		if p.MerkleProofPath[i], err = readHash(b, off); err != nil {
			return p, err
		}
	}
	p.OrientationBits = make([]bool, pathLen)
	for i := range p.OrientationBits {
		v, err := readU8(b, off)
		if err != nil {
			return p, err
		}
		p.OrientationBits[i] = v != 0
	}
	return p, nil
}

// DecodeBlockProof parses a BlockProof starting at offset 0 of b.
func DecodeBlockProof(b []byte) (chain.BlockProof, error) {
	off := 0
	return decodeBlockProof(b, &off)
}
