// Package frame implements the RFC 6455 framing layer: frame encoding, a
// resumable frame decoder and reassembly of fragmented messages.
package frame

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wmdanor/wsengine/internal"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
 :                     Payload Data continued ...                :
 + - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
 |                     Payload Data continued ...                |
 +---------------------------------------------------------------+
*/

const (
	// MaxControlPayload is the payload limit of Close, Ping and Pong frames.
	MaxControlPayload = 125

	// MaxHeaderSize is 2 fixed bytes, 8 bytes of extended length and the
	// 4 byte masking key.
	MaxHeaderSize = 14

	finBit  = 0b1_000_0000
	rsvBits = 0b0_111_0000
	opBits  = 0b0_000_1111
	maskBit = 0b1_0000000
	lenBits = 0b0_1111111
)

// Frame is a single decoded frame. Payload is always unmasked; Masked and
// MaskKey describe how it travelled on the wire.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

func (f *Frame) PayloadLength() uint64 {
	return uint64(len(f.Payload))
}

func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

func (f *Frame) IsData() bool {
	return f.Opcode.IsData()
}

// Validate checks the invariants a frame must hold before it is encoded.
func (f *Frame) Validate() error {
	if f.Opcode.IsReserved() {
		return fmt.Errorf("%w: reserved opcode %s", ErrInvalidFrame, f.Opcode)
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return fmt.Errorf("%w: control frames must not be fragmented", ErrInvalidFrame)
		}
		if len(f.Payload) > MaxControlPayload {
			return fmt.Errorf("%w: control frame payload of %d bytes exceeds %d",
				ErrInvalidFrame, len(f.Payload), MaxControlPayload)
		}
	}
	return nil
}

func NewMaskKey() [4]byte {
	var key [4]byte
	// crypto/rand.Read never returns an error since Go 1.24
	_, _ = rand.Read(key[:])
	return key
}

// AppendFrame encodes f and appends it to dst. In the client role the
// payload is masked with f.MaskKey when f.Masked is set, with a fresh random
// key otherwise. The caller's payload is never modified. A server frame must
// not be masked.
func AppendFrame(dst []byte, f *Frame, role Role) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return dst, err
	}

	masked := role == RoleClient
	if !masked && f.Masked {
		return dst, fmt.Errorf("%w: frames sent by a server must not be masked", ErrInvalidFrame)
	}

	var b0, b1 byte
	if f.Fin {
		b0 |= finBit
	}
	b0 |= byte(f.Opcode)

	var key [4]byte
	if masked {
		b1 |= maskBit
		key = f.MaskKey
		if !f.Masked {
			key = NewMaskKey()
		}
	}

	length := len(f.Payload)
	switch {
	case length <= MaxControlPayload:
		dst = append(dst, b0, b1|byte(length))
	case length <= math.MaxUint16:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(length))
	}

	if masked {
		dst = append(dst, key[:]...)
	}

	start := len(dst)
	dst = append(dst, f.Payload...)
	if masked {
		internal.Mask(dst[start:], key)
	}

	return dst, nil
}

// Encode returns the wire form of f.
func Encode(f *Frame, role Role) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxHeaderSize+len(f.Payload)), f, role)
}
