package internal

import (
	"encoding/binary"
)

// Mask XORs bytes in place with the masking key, starting at key position 0.
func Mask(bytes []byte, key [4]byte) {
	MaskOffset(bytes, key, 0)
}

// MaskOffset XORs bytes in place with the masking key, where offset is the
// position of bytes[0] inside the frame payload. It returns the offset of the
// byte that follows, so a payload can be unmasked in several chunks.
func MaskOffset(bytes []byte, key [4]byte, offset int) int {
	i := 0

	// Align to the key, then process 8 bytes per step.
	for ; i < len(bytes) && (offset+i)%4 != 0; i++ {
		bytes[i] ^= key[(offset+i)%4]
	}

	if len(bytes)-i >= 8 {
		k := binary.LittleEndian.Uint32(key[:])
		k64 := uint64(k)<<32 | uint64(k)
		for ; len(bytes)-i >= 8; i += 8 {
			v := binary.LittleEndian.Uint64(bytes[i:])
			binary.LittleEndian.PutUint64(bytes[i:], v^k64)
		}
	}

	for ; i < len(bytes); i++ {
		bytes[i] ^= key[(offset+i)%4]
	}

	return offset + len(bytes)
}
