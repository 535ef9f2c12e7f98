package chain

import "spacetime.dev/node/chainerr"

// PlotMetadata describes the plot a proof was drawn from.
type PlotMetadata struct {
	LeafCount      int64
	PlotID         Hash
	PlotHeaderHash Hash
	Version        uint8
}

// NewPlotMetadata validates leaf_count > 0.
func NewPlotMetadata(m PlotMetadata) (*PlotMetadata, error) {
	if m.LeafCount <= 0 {
		return nil, chainerr.New(chainerr.KindInvalidFieldRange, "leaf_count must be positive")
	}
	cp := m
	return &cp, nil
}

// BlockProof is a miner's proof-of-space-time response included in a
// block's body.
type BlockProof struct {
	LeafValue       Hash
	LeafIndex       int64
	MerkleProofPath []Hash
	OrientationBits []bool
	PlotMetadata    PlotMetadata
}

// NewBlockProof validates that the Merkle path and orientation bits are the
// same length, leaf_index is non-negative, and plot_id matches plotRoot
// (the caller passes the header's plot_root so the check happens once, at
// construction, rather than being re-derived by every consumer).
func NewBlockProof(p BlockProof, plotRoot Hash) (*BlockProof, error) {
	if len(p.MerkleProofPath) != len(p.OrientationBits) {
		return nil, chainerr.New(chainerr.KindInvalidFieldRange, "merkle_proof_path and orientation_bits must be the same length")
	}
	if err := checkNonNegative(chainerr.KindInvalidFieldRange, "leaf_index", p.LeafIndex); err != nil {
		return nil, err
	}
	if p.PlotMetadata.PlotID != plotRoot {
		return nil, chainerr.New(chainerr.KindPlotRootMismatch, "plot_metadata.plot_id does not match the header plot_root")
	}
	cp := p
	cp.MerkleProofPath = append([]Hash(nil), p.MerkleProofPath...)
	cp.OrientationBits = append([]bool(nil), p.OrientationBits...)
	return &cp, nil
}

// TreeHeight returns the number of leaves' worth of tree levels implied by
// the plot's leaf count, used to size a Merkle path during validation.
func (m PlotMetadata) TreeHeight() int {
	h := 0
	for n := m.LeafCount; n > 1; n = (n + 1) / 2 {
		h++
	}
	return h
}
