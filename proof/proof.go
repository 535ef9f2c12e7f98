// Package proof implements the proof-of-space-time validator: the ordered
// pipeline of challenge, plot-root, score, target, and Merkle-path checks
// every submitted BlockProof must pass. Rules run sequentially and the
// first failure wins.
package proof

import (
	"context"
	"crypto/sha256"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/merkletree"
)

// Validator checks BlockProofs against an expected challenge, plot root,
// and (optionally) a difficulty target. It is stateless and safe for
// concurrent reuse.
type Validator struct {
	Tree merkletree.Stream
}

// New returns a Validator using the default pairwise Merkle builder.
func New() *Validator {
	return &Validator{Tree: merkletree.PairwiseBuilder{}}
}

// Validate runs the five-step pipeline. claimedChallenge is the challenge
// the proof was produced against (for a block, this is the header's own
// challenge field); expectedChallenge is what the caller independently
// computed it should be (e.g. via epoch.Derive). p.PlotMetadata.PlotID is
// the proof's claimed plot root, checked against expectedPlotRoot. If
// target is non-nil the recomputed score must be strictly below it. The
// first violated rule is returned.
func (v *Validator) Validate(ctx context.Context, p chain.BlockProof, claimedChallenge, expectedChallenge, expectedPlotRoot chain.Hash, target *chain.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if claimedChallenge != expectedChallenge {
		return chainerr.New(chainerr.KindChallengeMismatch, "proof challenge does not match the expected epoch challenge")
	}
	if p.PlotMetadata.PlotID != expectedPlotRoot {
		return chainerr.New(chainerr.KindPlotRootMismatch, "proof plot root does not match the expected plot root")
	}

	score := computeScore(expectedChallenge, p.LeafValue)

	if target != nil && !lessBigEndian(score, *target) {
		return chainerr.New(chainerr.KindScoreAboveTarget, "proof score is not below the difficulty target")
	}

	root, err := merkletree.ReconstructPath(p.LeafValue, p.MerkleProofPath, p.OrientationBits)
	if err != nil {
		return err
	}
	if root != expectedPlotRoot {
		return chainerr.New(chainerr.KindInvalidMerklePath, "reconstructed merkle path does not reach the plot root")
	}
	return nil
}

// Score computes SHA256(challenge || leaf_value), exported so the block
// validator can cross-check header.proof_score without re-running the full
// pipeline.
func Score(challenge, leafValue chain.Hash) chain.Hash {
	return computeScore(challenge, leafValue)
}

func computeScore(challenge, leafValue chain.Hash) chain.Hash {
	buf := make([]byte, 0, chain.HashSize*2)
	buf = append(buf, challenge[:]...)
	buf = append(buf, leafValue[:]...)
	return sha256.Sum256(buf)
}

func lessBigEndian(a, b chain.Hash) bool {
	for i := 0; i < chain.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
