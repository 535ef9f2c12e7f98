package codec

import (
	"bytes"
	"testing"

	"spacetime.dev/node/chain"
)

func sampleUnsignedHeader() chain.UnsignedBlockHeader {
	return chain.UnsignedBlockHeader{
		Version:    chain.CurrentVersion,
		ParentHash: chain.Hash{1},
		Height:     7,
		Timestamp:  123456,
		Difficulty: 42,
		Epoch:      3,
		Challenge:  chain.Hash{2},
		PlotRoot:   chain.Hash{3},
		ProofScore: chain.Hash{4},
		TxRoot:     chain.Hash{5},
		MinerID:    chain.PubKey{6},
	}
}

func TestEncodeHeaderUnsigned_FixedWidth(t *testing.T) {
	b := EncodeHeaderUnsigned(sampleUnsignedHeader())
	if len(b) != chain.HeaderUnsignedSize {
		t.Fatalf("unsigned header encoding is %d bytes, want %d", len(b), chain.HeaderUnsignedSize)
	}
}

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	unsigned := sampleUnsignedHeader()
	prefix := EncodeHeaderUnsigned(unsigned)
	signed := unsigned.Sign(chain.Signature{9}, prefix)

	wire := EncodeHeader(signed)
	if len(wire) != chain.HeaderSignedSize {
		t.Fatalf("signed header encoding is %d bytes, want %d", len(wire), chain.HeaderSignedSize)
	}

	got, err := DecodeHeader(wire)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.UnsignedBlockHeader != unsigned {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got.UnsignedBlockHeader, unsigned)
	}
	if got.Signature != signed.Signature {
		t.Fatalf("signature not preserved")
	}
	if !bytes.Equal(got.UnsignedBytes(), prefix) {
		t.Fatalf("decoded header did not cache the exact unsigned prefix")
	}
}

func TestDecodeHeader_TruncatedInput(t *testing.T) {
	wire := EncodeHeader(sampleUnsignedHeader().Sign(chain.Signature{}, nil))
	if _, err := DecodeHeader(wire[:len(wire)-1]); err == nil {
		t.Fatalf("expected an error decoding a truncated header")
	}
}

func sampleUnsignedTx() chain.UnsignedTransaction {
	return chain.UnsignedTransaction{
		Version:   chain.CurrentVersion,
		Sender:    chain.PubKey{1},
		Recipient: chain.PubKey{2},
		Amount:    1000,
		Nonce:     5,
		Fee:       10,
	}
}

func TestTransaction_EncodeDecodeRoundTrip(t *testing.T) {
	unsigned := sampleUnsignedTx()
	prefix := EncodeTransactionUnsigned(unsigned)
	signed := unsigned.Sign(chain.Signature{7}, prefix)

	wire := EncodeTransaction(signed)
	if len(wire) != chain.TxSignedSize {
		t.Fatalf("signed tx encoding is %d bytes, want %d", len(wire), chain.TxSignedSize)
	}

	got, err := DecodeTransaction(wire)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if got.UnsignedTransaction != unsigned {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got.UnsignedTransaction, unsigned)
	}
}

func TestBlockProof_EncodeDecodeRoundTrip(t *testing.T) {
	p := chain.BlockProof{
		LeafValue:       chain.Hash{1},
		LeafIndex:       3,
		MerkleProofPath: []chain.Hash{{2}, {3}},
		OrientationBits: []bool{true, false},
		PlotMetadata: chain.PlotMetadata{
			LeafCount:      4,
			PlotID:         chain.Hash{4},
			PlotHeaderHash: chain.Hash{5},
			Version:        chain.CurrentVersion,
		},
	}
	wire := EncodeBlockProof(p)
	got, err := DecodeBlockProof(wire)
	if err != nil {
		t.Fatalf("DecodeBlockProof: %v", err)
	}
	if got.LeafValue != p.LeafValue || got.LeafIndex != p.LeafIndex || got.PlotMetadata != p.PlotMetadata {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, p)
	}
	if len(got.MerkleProofPath) != 2 || got.MerkleProofPath[0] != p.MerkleProofPath[0] {
		t.Fatalf("merkle path not preserved: %+v", got.MerkleProofPath)
	}
	if len(got.OrientationBits) != 2 || got.OrientationBits[0] != true || got.OrientationBits[1] != false {
		t.Fatalf("orientation bits not preserved: %+v", got.OrientationBits)
	}
}

func TestBlock_EncodeDecodeRoundTrip(t *testing.T) {
	unsignedHeader := sampleUnsignedHeader()
	header := unsignedHeader.Sign(chain.Signature{1}, EncodeHeaderUnsigned(unsignedHeader))

	unsignedTx := sampleUnsignedTx()
	tx := unsignedTx.Sign(chain.Signature{2}, EncodeTransactionUnsigned(unsignedTx))

	blk := chain.Block{
		Header: header,
		Body: chain.BlockBody{
			Transactions: []chain.SignedTransaction{tx},
			Proof: chain.BlockProof{
				PlotMetadata: chain.PlotMetadata{LeafCount: 1, PlotID: unsignedHeader.PlotRoot},
			},
		},
	}

	wire := EncodeBlock(blk)
	got, err := DecodeBlock(wire)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(got.Body.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(got.Body.Transactions))
	}
	if got.Body.Transactions[0].UnsignedTransaction != unsignedTx {
		t.Fatalf("transaction round trip mismatch")
	}
	if got.Header.UnsignedBlockHeader != unsignedHeader {
		t.Fatalf("header round trip mismatch")
	}
}
