package codec

import "spacetime.dev/node/chain"

// EncodeBlockBody serializes a BlockBody: transaction count, each
// transaction in body order, then the proof.
func EncodeBlockBody(body chain.BlockBody) []byte {
	out := make([]byte, 0, 4+len(body.Transactions)*chain.TxSignedSize)
	out = putU32le(out, uint32(len(body.Transactions)))
	for _, tx := range body.Transactions {
		out = append(out, EncodeTransaction(tx)...)
	}
	out = append(out, EncodeBlockProof(body.Proof)...)
	return out
}

func decodeBlockBody(b []byte, off *int) (chain.BlockBody, error) {
	var body chain.BlockBody
	txCount, err := readU32le(b, off)
	if err != nil {
		return body, err
	}
	body.Transactions = make([]chain.SignedTransaction, txCount)
	for i := range body.Transactions {
		raw, err := readBytes(b, off, chain.TxSignedSize)
		if err != nil {
			return body, err
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return body, err
		}
		body.Transactions[i] = tx
	}
	proof, err := decodeBlockProof(b, off)
	if err != nil {
		return body, err
	}
	body.Proof = proof
	return body, nil
}

// EncodeBlock serializes a full block: header then body.
func EncodeBlock(blk chain.Block) []byte {
	out := make([]byte, 0, chain.HeaderSignedSize+64)
	out = append(out, EncodeHeader(blk.Header)...)
	out = append(out, EncodeBlockBody(blk.Body)...)
	return out
}

// DecodeBlock parses a full block from its wire/storage encoding.
func DecodeBlock(b []byte) (chain.Block, error) {
	off := 0
	headerBytes, err := readBytes(b, &off, chain.HeaderSignedSize)
	if err != nil {
		return chain.Block{}, err
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return chain.Block{}, err
	}
	body, err := decodeBlockBody(b, &off)
	if err != nil {
		return chain.Block{}, err
	}
	return chain.Block{Header: header, Body: body}, nil
}
