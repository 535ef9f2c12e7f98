package cryptoprovider

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Secp256k1Verifier verifies ECDSA signatures over the secp256k1 curve.
// It expects a 33-byte compressed public key and a 64-byte signature laid
// out as r (32 bytes) followed by s (32 bytes), both big-endian, matching
// the wire layout in codec. message is the digest the signature was
// produced over; callers are responsible for hashing it first (the
// protocol signs the SHA-256 digest of the unsigned header/transaction
// prefix, never the raw prefix).
type Secp256k1Verifier struct{}

// Verify reports whether signature is a valid secp256k1 ECDSA signature by
// pubkey over message. A malformed pubkey or signature length is a
// precondition violation; the caller is expected to have already checked
// PubKeySize/SignatureSize before calling, so this treats a parse failure
// as an ordinary verification failure rather than an error, matching the
// behavior of an untrusted signature arriving over the wire.
func (Secp256k1Verifier) Verify(message, signature, pubkey []byte) (bool, error) {
	if len(pubkey) != PubKeySize || len(signature) != SignatureSize {
		return false, nil
	}

	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, nil
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return false, nil
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow {
		return false, nil
	}

	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(message, pub), nil
}

// Secp256k1 is the stateless, concurrency-safe default verifier.
var Secp256k1 = Secp256k1Verifier{}
