package websocket

import (
	"github.com/wmdanor/wsengine/frame"
)

type MessageType uint8

const (
	// Non-control
	TextMessage   MessageType = MessageType(frame.OpcodeText)
	BinaryMessage MessageType = MessageType(frame.OpcodeBinary)

	// Control
	CloseMessage MessageType = MessageType(frame.OpcodeClose)
	PingMessage  MessageType = MessageType(frame.OpcodePing)
	PongMessage  MessageType = MessageType(frame.OpcodePong)
)

func (mt MessageType) String() string {
	return frame.Opcode(mt).String()
}

func (mt MessageType) isData() bool {
	return mt == TextMessage || mt == BinaryMessage
}

// Message is a complete application message. Text messages always hold
// valid UTF-8.
type Message struct {
	Type MessageType
	Data []byte
}
