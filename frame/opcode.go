package frame

import (
	"fmt"
)

type Opcode uint8

const (
	OpcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	OpcodeNonControl1
	OpcodeNonControl2
	OpcodeNonControl3
	OpcodeNonControl4
	OpcodeNonControl5
	OpcodeClose
	OpcodePing
	OpcodePong
	OpcodeControl1
	OpcodeControl2
	OpcodeControl3
	OpcodeControl4
	OpcodeControl5
)

func (c Opcode) IsControl() bool {
	return c == OpcodeClose || c == OpcodePing || c == OpcodePong
}

func (c Opcode) IsData() bool {
	return c == OpcodeContinuation || c == OpcodeText || c == OpcodeBinary
}

func (c Opcode) IsReserved() bool {
	return !c.IsControl() && !c.IsData()
}

func (c Opcode) String() string {
	switch c {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	}
	return fmt.Sprintf("reserved(0x%X)", uint8(c))
}

// Role selects the masking direction: clients mask every frame they send,
// servers never do.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}
