package codec

import (
	"encoding/binary"

	"spacetime.dev/node/chainerr"
)

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, chainerr.New(chainerr.KindInvalidSize, "unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, chainerr.New(chainerr.KindInvalidSize, "unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readI64le(b []byte, off *int) (int64, error) {
	if *off+8 > len(b) {
		return 0, chainerr.New(chainerr.KindInvalidSize, "unexpected EOF (i64le)")
	}
	v := int64(binary.LittleEndian.Uint64(b[*off : *off+8]))
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if *off+n > len(b) {
		return nil, chainerr.New(chainerr.KindInvalidSize, "unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}

func readHash(b []byte, off *int) (h [32]byte, err error) {
	raw, err := readBytes(b, off, 32)
	if err != nil {
		return h, err
	}
	copy(h[:], raw)
	return h, nil
}

func readPubKey(b []byte, off *int) (k [33]byte, err error) {
	raw, err := readBytes(b, off, 33)
	if err != nil {
		return k, err
	}
	copy(k[:], raw)
	return k, nil
}

func readSignature(b []byte, off *int) (s [64]byte, err error) {
	raw, err := readBytes(b, off, 64)
	if err != nil {
		return s, err
	}
	copy(s[:], raw)
	return s, nil
}
