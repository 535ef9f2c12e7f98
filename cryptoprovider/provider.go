// Package cryptoprovider defines the narrow hash/signature interfaces
// consumed by the consensus and state packages, plus the default
// SHA-256 / ECDSA-secp256k1 implementations Spacetime ships with.
package cryptoprovider

import "crypto/sha256"

// HashSize is the width of every hash used in the protocol.
const HashSize = 32

// PubKeySize is the width of a compressed secp256k1 public key.
const PubKeySize = 33

// SignatureSize is the width of a 64-byte r||s ECDSA signature.
const SignatureSize = 64

// HashFunction computes the protocol's content hash.
type HashFunction interface {
	Compute(b []byte) [HashSize]byte
}

// SignatureVerifier verifies a signature over message against pubkey.
// Implementations must not panic on malformed input; an invalid signature
// or key returns (false, nil), a malformed pubkey/signature length is a
// precondition violation the caller should already have checked.
type SignatureVerifier interface {
	Verify(message, signature, pubkey []byte) (bool, error)
}

// Provider bundles the hash and signature primitives a single consensus
// run is configured with.
type Provider interface {
	HashFunction
	SignatureVerifier
}

// SHA256Hasher is the stdlib-backed HashFunction used everywhere in the
// protocol (block hash, transaction hash, challenge derivation, proof
// score, Merkle tree nodes).
type SHA256Hasher struct{}

// Compute returns the SHA-256 digest of b.
func (SHA256Hasher) Compute(b []byte) [HashSize]byte {
	return sha256.Sum256(b)
}

// Default is the zero-value, stateless SHA-256 hasher, safe for concurrent
// reuse across every package in this module.
var Default = SHA256Hasher{}
