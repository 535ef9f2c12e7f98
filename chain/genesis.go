package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"spacetime.dev/node/chainerr"
)

// GenesisConfig parameterizes construction of the genesis block. It mirrors
// the recognized genesis options named in the external interface: network
// identity, initial consensus parameters, and the premined account rows
// that exist before any block is ever applied.
type GenesisConfig struct {
	NetworkID             string
	InitialTimestamp      int64
	InitialDifficulty     int64
	InitialEpoch          int64
	EpochDurationSeconds  int64
	MinEpochDuration      int64
	MaxEpochDuration      int64
	TargetBlockTime       int64
	PreminedAllocations   map[string]int64 // hex-encoded 33-byte pubkey -> balance
}

// Genesis builds the genesis block and the initial account rows implied by
// PreminedAllocations. Unlike every later block, genesis account rows are
// materialized directly rather than produced by applying transactions: the
// genesis block carries no transactions, so there is no sender to debit.
func Genesis(cfg GenesisConfig) (*Block, map[PubKey]AccountState, error) {
	if cfg.InitialDifficulty <= 0 {
		return nil, nil, chainerr.New(chainerr.KindInvalidDifficulty, "initial_difficulty must be positive")
	}
	if cfg.InitialEpoch < 0 {
		return nil, nil, chainerr.New(chainerr.KindInvalidEpoch, "initial_epoch must be non-negative")
	}
	if cfg.TargetBlockTime <= 0 {
		return nil, nil, chainerr.New(chainerr.KindInvalidFieldRange, "target_block_time must be positive")
	}
	if cfg.EpochDurationSeconds < cfg.MinEpochDuration || cfg.EpochDurationSeconds > cfg.MaxEpochDuration {
		return nil, nil, chainerr.New(chainerr.KindInvalidFieldRange, "epoch_duration_seconds out of configured range")
	}

	allocations := make(map[PubKey]AccountState, len(cfg.PreminedAllocations))
	for hexKey, balance := range cfg.PreminedAllocations {
		if balance < 0 {
			return nil, nil, chainerr.New(chainerr.KindInvalidFieldRange, "premined allocation balance must be non-negative")
		}
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != PubKeySize {
			return nil, nil, chainerr.New(chainerr.KindInvalidSize, "premined allocation key must be a 33-byte hex pubkey")
		}
		var pk PubKey
		copy(pk[:], raw)
		allocations[pk] = AccountState{Balance: balance, Nonce: 0}
	}

	challenge := sha256.Sum256([]byte(cfg.NetworkID))

	// Genesis has no real plot behind it: a single-leaf tree with a zero
	// leaf value gives a proof that is internally consistent (its own
	// merkle path is empty) without claiming a miner ever produced it.
	metadata := PlotMetadata{LeafCount: 1, PlotID: ZeroHash, PlotHeaderHash: ZeroHash, Version: CurrentVersion}
	var leafValue Hash
	score := sha256.Sum256(append(append([]byte{}, challenge[:]...), leafValue[:]...))

	unsigned := UnsignedBlockHeader{
		Version:    CurrentVersion,
		ParentHash: ZeroHash,
		Height:     0,
		Timestamp:  cfg.InitialTimestamp,
		Difficulty: cfg.InitialDifficulty,
		Epoch:      cfg.InitialEpoch,
		Challenge:  Hash(challenge),
		PlotRoot:   ZeroHash,
		ProofScore: Hash(score),
		TxRoot:     ZeroHash,
		MinerID:    PubKey{},
	}
	header := unsigned.Sign(Signature{}, nil)

	block := &Block{
		Header: header,
		Body: BlockBody{
			Transactions: nil,
			Proof: BlockProof{
				LeafValue:       leafValue,
				LeafIndex:       0,
				MerkleProofPath: nil,
				OrientationBits: nil,
				PlotMetadata:    metadata,
			},
		},
	}
	return block, allocations, nil
}
