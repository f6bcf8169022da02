package frame

import (
	"encoding/binary"
	"math"

	"github.com/wmdanor/wsengine/internal"
)

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateLength
	stateMaskKey
	statePayload
)

// initial payload allocation, the buffer grows as bytes arrive
const maxPreallocPayload = 64 << 10

// Decoder parses frames out of a byte stream fed in arbitrary pieces. Header
// bytes are kept between calls, so a frame split across reads is resumed
// where it stopped.
type Decoder struct {
	role       Role
	maxPayload uint64

	state  decodeState
	hdr    [MaxHeaderSize]byte
	hdrLen int
	want   int

	frame  Frame
	length uint64
}

// NewDecoder returns a decoder for frames received in the given role. A
// maxPayload of 0 only applies the protocol limit of 2^63-1 bytes.
func NewDecoder(role Role, maxPayload uint64) *Decoder {
	if maxPayload == 0 {
		maxPayload = math.MaxInt64
	}
	return &Decoder{
		role:       role,
		maxPayload: maxPayload,
	}
}

// Decode consumes bytes from p. It returns a complete frame and the number
// of bytes used, or ErrNeedMoreData once all of p is consumed without
// completing a frame, or a *ProtocolError. After a protocol error the stream
// cannot be resumed.
func (d *Decoder) Decode(p []byte) (*Frame, int, error) {
	n := 0

	for {
		switch d.state {
		case stateHeader:
			n += d.collect(p[n:], 2)
			if d.hdrLen < 2 {
				return nil, n, ErrNeedMoreData
			}
			if err := d.parseFixed(); err != nil {
				return nil, n, err
			}

		case stateLength:
			n += d.collect(p[n:], d.want)
			if d.hdrLen < d.want {
				return nil, n, ErrNeedMoreData
			}
			if err := d.parseLength(); err != nil {
				return nil, n, err
			}

		case stateMaskKey:
			n += d.collect(p[n:], d.want)
			if d.hdrLen < d.want {
				return nil, n, ErrNeedMoreData
			}
			copy(d.frame.MaskKey[:], d.hdr[d.want-4:d.want])
			d.startPayload()

		case statePayload:
			remaining := d.length - uint64(len(d.frame.Payload))
			take := min(remaining, uint64(len(p)-n))
			d.frame.Payload = append(d.frame.Payload, p[n:n+int(take)]...)
			n += int(take)

			if uint64(len(d.frame.Payload)) < d.length {
				return nil, n, ErrNeedMoreData
			}

			if d.frame.Masked {
				internal.Mask(d.frame.Payload, d.frame.MaskKey)
			}

			f := d.frame
			d.Reset()
			return &f, n, nil
		}
	}
}

// InFrame reports whether part of a frame has been consumed.
func (d *Decoder) InFrame() bool {
	return d.state != stateHeader || d.hdrLen > 0
}

func (d *Decoder) Reset() {
	d.state = stateHeader
	d.hdrLen = 0
	d.want = 0
	d.frame = Frame{}
	d.length = 0
}

func (d *Decoder) collect(p []byte, want int) int {
	if d.hdrLen >= want {
		return 0
	}
	c := copy(d.hdr[d.hdrLen:want], p)
	d.hdrLen += c
	return c
}

func (d *Decoder) parseFixed() error {
	b0, b1 := d.hdr[0], d.hdr[1]

	if b0&rsvBits != 0 {
		return protocolError(KindReservedBits, CloseProtocolError,
			"RSV bits must be 0 as extensions are not supported")
	}

	d.frame.Fin = b0&finBit != 0
	d.frame.Opcode = Opcode(b0 & opBits)
	if d.frame.Opcode.IsReserved() {
		return protocolError(KindReservedOpcode, CloseProtocolError,
			"opcode must not be one of reserved values, received 0x%X", uint8(d.frame.Opcode))
	}

	d.frame.Masked = b1&maskBit != 0
	switch {
	case d.role == RoleServer && !d.frame.Masked:
		return protocolError(KindMasking, CloseProtocolError, "received unmasked frame on the server")
	case d.role == RoleClient && d.frame.Masked:
		return protocolError(KindMasking, CloseProtocolError, "received masked frame on the client")
	}

	length := b1 & lenBits
	if d.frame.Opcode.IsControl() {
		if !d.frame.Fin {
			return protocolError(KindControlFrame, CloseProtocolError, "control frames must not be fragmented")
		}
		if length > MaxControlPayload {
			return protocolError(KindControlFrame, CloseProtocolError,
				"control frames must have a payload length of %d bytes or less", MaxControlPayload)
		}
	}

	switch length {
	case 126:
		d.want = 4
	case 127:
		d.want = 10
	default:
		d.want = 2
		d.length = uint64(length)
	}
	d.state = stateLength

	return nil
}

func (d *Decoder) parseLength() error {
	switch d.want {
	case 4:
		d.length = uint64(binary.BigEndian.Uint16(d.hdr[2:4]))
	case 10:
		d.length = binary.BigEndian.Uint64(d.hdr[2:10])
		if d.length>>63 != 0 {
			return protocolError(KindPayloadLength, CloseProtocolError,
				"most significant bit of 64-bit payload length must be 0")
		}
	}

	if d.length > d.maxPayload {
		return protocolError(KindTooBig, CloseMessageTooBig,
			"frame payload of %d bytes exceeds limit of %d", d.length, d.maxPayload)
	}

	if d.frame.Masked {
		d.want += 4
		d.state = stateMaskKey
		return nil
	}

	d.startPayload()
	return nil
}

func (d *Decoder) startPayload() {
	d.frame.Payload = make([]byte, 0, min(d.length, maxPreallocPayload))
	d.state = statePayload
}
