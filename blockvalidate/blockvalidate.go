// Package blockvalidate orchestrates the full block validation pipeline:
// structural, temporal, consensus-context, transaction, and proof checks
// run in a strict order, and the first violated rule is the one reported.
package blockvalidate

import (
	"context"
	"time"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
	"spacetime.dev/node/cryptoprovider"
	"spacetime.dev/node/difficulty"
	"spacetime.dev/node/merkletree"
	"spacetime.dev/node/proof"
)

// MaxClockSkewSeconds is the default tolerance for a header's timestamp
// being ahead of wall clock.
const MaxClockSkewSeconds = 120

// ChainState is the consensus-context reader the validator consults at
// step 5. Implementations live in package chainstate.
type ChainState interface {
	TipHash() chain.Hash
	TipHeight() int64
	ExpectedDifficulty() int64
	ExpectedEpoch() int64
	ExpectedChallenge() chain.Hash
}

// Validator is stateless beyond its injected collaborators and is safe for
// concurrent reuse.
type Validator struct {
	Hasher       cryptoprovider.HashFunction
	Verifier     cryptoprovider.SignatureVerifier
	Tree         merkletree.Stream
	ProofChecker *proof.Validator
	MaxClockSkew int64
	Now          func() int64
}

// New builds a Validator with the default Merkle builder and a 120s clock
// skew tolerance.
func New(hasher cryptoprovider.HashFunction, verifier cryptoprovider.SignatureVerifier) *Validator {
	return &Validator{
		Hasher:       hasher,
		Verifier:     verifier,
		Tree:         merkletree.PairwiseBuilder{},
		ProofChecker: proof.New(),
		MaxClockSkew: MaxClockSkewSeconds,
		Now:          func() int64 { return time.Now().Unix() },
	}
}

// Validate runs the nine-step pipeline against blk using state as the
// consensus context. The first violated rule is returned. ctx is checked
// before the pipeline runs and again before the proof-verification step,
// the two points at which a caller validating a backlog of candidate
// blocks would want a cancellation to take effect promptly.
func (v *Validator) Validate(ctx context.Context, blk chain.Block, state ChainState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header := blk.Header

	if header.Version != chain.CurrentVersion {
		return chainerr.New(chainerr.KindUnsupportedVersion, "unsupported block version")
	}
	if !header.IsSigned() {
		return chainerr.New(chainerr.KindHeaderNotSigned, "header has no signature")
	}
	if header.Timestamp > v.Now()+v.MaxClockSkew {
		return chainerr.New(chainerr.KindInvalidTimestamp, "header timestamp too far in the future")
	}

	// The signature covers the digest of the unsigned prefix, which is
	// also the block hash.
	headerDigest := v.Hasher.Compute(header.UnsignedBytes())
	ok, err := v.Verifier.Verify(headerDigest[:], header.Signature[:], header.MinerID[:])
	if err != nil {
		return chainerr.Wrap(chainerr.KindInvalidHeaderSig, "header signature verification error: "+err.Error(), err)
	}
	if !ok {
		return chainerr.New(chainerr.KindInvalidHeaderSig, "invalid header signature")
	}

	if header.ParentHash != state.TipHash() {
		return chainerr.New(chainerr.KindInvalidParentHash, "parent hash does not match chain tip")
	}
	if header.Height != state.TipHeight()+1 {
		return chainerr.New(chainerr.KindInvalidHeight, "height does not follow the chain tip")
	}
	if header.Difficulty != state.ExpectedDifficulty() {
		return chainerr.New(chainerr.KindInvalidDifficulty, "difficulty does not match expected value")
	}
	if header.Epoch != state.ExpectedEpoch() {
		return chainerr.New(chainerr.KindInvalidEpoch, "epoch does not match expected value")
	}
	if header.Challenge != state.ExpectedChallenge() {
		return chainerr.New(chainerr.KindInvalidChallenge, "challenge does not match expected value")
	}

	leaves := make([]chain.Hash, len(blk.Body.Transactions))
	for i, tx := range blk.Body.Transactions {
		leaves[i] = tx.Hash(v.Hasher, tx.UnsignedBytes())
	}
	txRoot, err := v.Tree.Build(leaves)
	if err != nil {
		return chainerr.Wrap(chainerr.KindInvalidTransactionRoot, "failed to build transaction root", err)
	}
	if txRoot != header.TxRoot {
		return chainerr.New(chainerr.KindInvalidTransactionRoot, "transaction root does not match header")
	}

	for _, tx := range blk.Body.Transactions {
		if !tx.IsSigned() {
			return chainerr.New(chainerr.KindBasicValidationFailed, "transaction is not signed")
		}
		if tx.Sender == tx.Recipient {
			return chainerr.New(chainerr.KindBasicValidationFailed, "sender and recipient must differ")
		}
		if tx.Amount <= 0 {
			return chainerr.New(chainerr.KindBasicValidationFailed, "amount must be positive")
		}
		if tx.Nonce < 0 {
			return chainerr.New(chainerr.KindBasicValidationFailed, "nonce must be non-negative")
		}
		if tx.Fee < 0 {
			return chainerr.New(chainerr.KindBasicValidationFailed, "fee must be non-negative")
		}
		txDigest := v.Hasher.Compute(tx.UnsignedBytes())
		sigOK, sigErr := v.Verifier.Verify(txDigest[:], tx.Signature[:], tx.Sender[:])
		if sigErr != nil {
			return chainerr.Wrap(chainerr.KindInvalidTxSignature, "transaction signature verification error: "+sigErr.Error(), sigErr)
		}
		if !sigOK {
			return chainerr.New(chainerr.KindInvalidTxSignature, "invalid transaction signature")
		}
	}

	score := proof.Score(header.Challenge, blk.Body.Proof.LeafValue)
	if score != header.ProofScore {
		return chainerr.New(chainerr.KindScoreMismatch, "header proof_score does not match the recomputed score")
	}
	target, err := difficulty.ToTarget(header.Difficulty)
	if err != nil {
		return err
	}
	if !difficulty.Less(score, target) {
		return chainerr.New(chainerr.KindProofScoreTooHigh, "proof score is not below the expected target")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// A promoted odd node skips a level, so the path may be shorter than
	// the full tree height, but never longer.
	if len(blk.Body.Proof.MerkleProofPath) > blk.Body.Proof.PlotMetadata.TreeHeight() {
		return chainerr.New(chainerr.KindInvalidMerklePath, "merkle path is longer than the plot's tree height")
	}
	if err := v.ProofChecker.Validate(ctx, blk.Body.Proof, header.Challenge, header.Challenge, header.PlotRoot, &target); err != nil {
		return err
	}
	return nil
}
