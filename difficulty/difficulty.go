// Package difficulty implements the difficulty/target bijection
// (T = MAX_TARGET / D over 256-bit unsigned integers) and the periodic
// dampened retarget that keeps block production near the configured
// block time.
package difficulty

import (
	"math/big"

	"spacetime.dev/node/chain"
	"spacetime.dev/node/chainerr"
)

// DefaultMinDifficulty and DefaultMaxDifficulty bound the difficulty range
// when the caller configures none.
const (
	DefaultMinDifficulty int64 = 1
	DefaultMaxDifficulty int64 = 1<<63 - 1 // i64::MAX
)

var maxTarget = func() *big.Int {
	one := big.NewInt(1)
	max256 := new(big.Int).Lsh(one, 256)
	return max256.Sub(max256, one)
}()

// Config sets the retarget cadence, dampening, and difficulty bounds.
type Config struct {
	TargetBlockTimeSeconds   int64
	AdjustmentIntervalBlocks int64
	DampeningFactor          int64
	MinimumDifficulty        int64
	MaximumDifficulty        int64
}

// DefaultConfig returns the standard retarget parameters: a 10 second
// block time, adjustment every 100 blocks, dampening factor 4.
func DefaultConfig() Config {
	return Config{
		TargetBlockTimeSeconds:   10,
		AdjustmentIntervalBlocks: 100,
		DampeningFactor:          4,
		MinimumDifficulty:        DefaultMinDifficulty,
		MaximumDifficulty:        DefaultMaxDifficulty,
	}
}

// Validate checks the config's own invariants.
func (c Config) Validate() error {
	if c.TargetBlockTimeSeconds <= 0 {
		return chainerr.Precondition("target_block_time_seconds must be positive")
	}
	if c.AdjustmentIntervalBlocks <= 0 {
		return chainerr.Precondition("adjustment_interval_blocks must be positive")
	}
	if c.DampeningFactor < 1 {
		return chainerr.Precondition("dampening_factor must be >= 1")
	}
	if c.MinimumDifficulty < 1 {
		return chainerr.Precondition("minimum_difficulty must be >= 1")
	}
	if c.MaximumDifficulty < c.MinimumDifficulty {
		return chainerr.Precondition("maximum_difficulty must be >= minimum_difficulty")
	}
	return nil
}

// ToTarget computes T = floor(MAX_TARGET / D). It refuses to produce the
// all-zero target: a difficulty so large that the exact quotient would be
// zero instead yields the smallest non-zero 256-bit value, since a zero
// target would make every proof unwinnable.
func ToTarget(d int64) (chain.Hash, error) {
	if d <= 0 {
		return chain.Hash{}, chainerr.Precondition("difficulty must be positive")
	}
	t := new(big.Int).Quo(maxTarget, big.NewInt(d))
	if t.Sign() == 0 {
		t = big.NewInt(1)
	}
	return bigIntToHash(t)
}

// ToDifficulty computes D = floor(MAX_TARGET / T), with the zero-target
// edge case mapped to maximumDifficulty.
func ToDifficulty(target chain.Hash, maximumDifficulty int64) int64 {
	t := new(big.Int).SetBytes(target[:])
	if t.Sign() == 0 {
		return maximumDifficulty
	}
	d := new(big.Int).Quo(maxTarget, t)
	if d.Cmp(big.NewInt(maximumDifficulty)) > 0 {
		return maximumDifficulty
	}
	return d.Int64()
}

// Retarget computes the next difficulty given the actual window duration
// (seconds), against an expected duration of AdjustmentIntervalBlocks *
// TargetBlockTimeSeconds, averaging cfg.DampeningFactor-1 parts "no
// change" with one part full ratio, then clamps to [MinimumDifficulty,
// MaximumDifficulty].
func Retarget(cfg Config, oldDifficulty int64, actualSeconds int64) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if oldDifficulty <= 0 {
		return 0, chainerr.Precondition("old difficulty must be positive")
	}
	if actualSeconds <= 0 {
		actualSeconds = 1
	}
	expectedSeconds := cfg.AdjustmentIntervalBlocks * cfg.TargetBlockTimeSeconds

	k := big.NewInt(cfg.DampeningFactor)
	actual := big.NewInt(actualSeconds)
	expected := big.NewInt(expectedSeconds)
	old := big.NewInt(oldDifficulty)

	// D_new = D_old * ((k-1)*actual + expected) / (k*actual): k-1 parts
	// "no change" averaged with one part of the full expected/actual ratio,
	// so an exactly-on-time window leaves difficulty untouched.
	kMinusOne := new(big.Int).Sub(k, big.NewInt(1))
	numerator := new(big.Int).Mul(kMinusOne, actual)
	numerator.Add(numerator, expected)
	numerator.Mul(numerator, old)

	denom := new(big.Int).Mul(k, actual)
	if denom.Sign() == 0 {
		return 0, chainerr.Precondition("retarget denominator is zero")
	}

	newDifficulty := new(big.Int).Quo(numerator, denom)

	min := big.NewInt(cfg.MinimumDifficulty)
	max := big.NewInt(cfg.MaximumDifficulty)
	if newDifficulty.Cmp(min) < 0 {
		newDifficulty = min
	}
	if newDifficulty.Cmp(max) > 0 {
		newDifficulty = max
	}
	return newDifficulty.Int64(), nil
}

func bigIntToHash(x *big.Int) (chain.Hash, error) {
	var out chain.Hash
	if x.Sign() < 0 {
		return out, chainerr.Precondition("256-bit value must be non-negative")
	}
	b := x.Bytes()
	if len(b) > chain.HashSize {
		return out, chainerr.Precondition("256-bit value overflows 32 bytes")
	}
	copy(out[chain.HashSize-len(b):], b)
	return out, nil
}

// Less reports whether a is strictly less than b when both are interpreted
// as 256-bit big-endian unsigned integers (used for score < target).
func Less(a, b chain.Hash) bool {
	for i := 0; i < chain.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
