package frame

import (
	"errors"
	"fmt"

	"github.com/wmdanor/wsengine/internal"
)

var ErrNotDataFrame = errors.New("frame: not a data frame")

// Message is a complete Text or Binary message.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Reassembler stitches data frames into messages. Control frames are never
// passed to it; the caller handles them between fragments.
type Reassembler struct {
	maxSize int

	active bool
	opcode Opcode
	buf    []byte
	text   internal.UTF8Validator
}

// NewReassembler returns a reassembler rejecting messages larger than
// maxSize bytes. A maxSize of 0 disables the limit.
func NewReassembler(maxSize int) *Reassembler {
	return &Reassembler{maxSize: maxSize}
}

// Push adds the next data frame in arrival order. It returns the message the
// frame completed, or nil while fragments are still expected. Text payloads
// are checked as they arrive, so invalid UTF-8 fails on the fragment that
// makes it invalid.
func (r *Reassembler) Push(f *Frame) (*Message, error) {
	if !f.Opcode.IsData() {
		return nil, fmt.Errorf("%w: %s", ErrNotDataFrame, f.Opcode)
	}

	continuation := f.Opcode == OpcodeContinuation
	switch {
	case continuation && !r.active:
		return nil, protocolError(KindFragmentation, CloseProtocolError,
			"continuation frame without a message in progress")
	case !continuation && r.active:
		return nil, protocolError(KindFragmentation, CloseProtocolError,
			"%s frame received while a fragmented %s message is pending", f.Opcode, r.opcode)
	}

	if !continuation {
		r.active = true
		r.opcode = f.Opcode
		r.buf = r.buf[:0]
		r.text.Reset()
	}

	if r.maxSize > 0 && len(r.buf)+len(f.Payload) > r.maxSize {
		r.Reset()
		return nil, protocolError(KindTooBig, CloseMessageTooBig,
			"message exceeds limit of %d bytes", r.maxSize)
	}

	if r.opcode == OpcodeText && !r.text.Write(f.Payload) {
		r.Reset()
		return nil, protocolError(KindInvalidUTF8, CloseInvalidFramePayloadData,
			"received invalid UTF-8 data")
	}

	if !f.Fin {
		r.buf = append(r.buf, f.Payload...)
		return nil, nil
	}

	if r.opcode == OpcodeText && !r.text.Done() {
		r.Reset()
		return nil, protocolError(KindInvalidUTF8, CloseInvalidFramePayloadData,
			"text message ends inside a UTF-8 sequence")
	}

	msg := &Message{Opcode: r.opcode}
	if continuation {
		msg.Payload = append(r.buf, f.Payload...)
		r.buf = nil
	} else {
		// unfragmented, the frame already owns its payload
		msg.Payload = f.Payload
	}
	r.active = false

	return msg, nil
}

// Pending reports whether a fragmented message is in progress.
func (r *Reassembler) Pending() bool {
	return r.active
}

func (r *Reassembler) Reset() {
	r.active = false
	r.buf = r.buf[:0]
	r.text.Reset()
}
