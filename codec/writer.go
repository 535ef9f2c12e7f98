package codec

import "encoding/binary"

func putU8(out []byte, v uint8) []byte {
	return append(out, v)
}

func putU32le(out []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(out, tmp[:]...)
}

func putI64le(out []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(out, tmp[:]...)
}
