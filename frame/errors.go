package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData is returned by Decoder.Decode when the input ended
	// inside a frame. It is not a failure: feed more bytes and call again.
	ErrNeedMoreData = errors.New("frame: need more data")

	ErrInvalidFrame = errors.New("frame: invalid frame")
)

type ErrorKind uint8

const (
	KindReservedBits ErrorKind = iota + 1
	KindReservedOpcode
	KindMasking
	KindControlFrame
	KindPayloadLength
	KindTooBig
	KindFragmentation
	KindInvalidUTF8
	KindClosePayload
)

func (k ErrorKind) String() string {
	switch k {
	case KindReservedBits:
		return "reserved bits"
	case KindReservedOpcode:
		return "reserved opcode"
	case KindMasking:
		return "masking"
	case KindControlFrame:
		return "control frame"
	case KindPayloadLength:
		return "payload length"
	case KindTooBig:
		return "too big"
	case KindFragmentation:
		return "fragmentation"
	case KindInvalidUTF8:
		return "invalid utf-8"
	case KindClosePayload:
		return "close payload"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ProtocolError is a frame or message level violation. The connection that
// observed it must be closed with Code.
type ProtocolError struct {
	Kind   ErrorKind
	Code   CloseCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s, close code %d): %s", e.Kind, e.Code, e.Reason)
}

func protocolError(kind ErrorKind, code CloseCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Kind:   kind,
		Code:   code,
		Reason: fmt.Sprintf(format, args...),
	}
}
