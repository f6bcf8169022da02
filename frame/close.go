package frame

import (
	"encoding/binary"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

type CloseCode uint16

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseBadGateway              CloseCode = 1014
	CloseTLSHandshake            CloseCode = 1015
)

// MaxCloseReason is the longest reason that fits a control frame next to the
// 2-byte code.
const MaxCloseReason = MaxControlPayload - 2

var (
	// codes allowed on the wire, 1005, 1006 and 1015 are local only
	validCloseCodes []CloseCode = []CloseCode{
		CloseNormalClosure,
		CloseGoingAway,
		CloseProtocolError,
		CloseUnsupportedData,
		CloseInvalidFramePayloadData,
		ClosePolicyViolation,
		CloseMessageTooBig,
		CloseMandatoryExtension,
		CloseInternalServerErr,
		CloseServiceRestart,
		CloseTryAgainLater,
		CloseBadGateway,
	}
)

func (c CloseCode) U() uint16 {
	return uint16(c)
}

func NewCloseCode(code uint16) (c CloseCode, ok bool) {
	c = CloseCode(code)
	ok = c.IsValid()
	return
}

// IsValid reports whether the code may appear in a Close frame.
func (c CloseCode) IsValid() bool {
	if slices.Contains(validCloseCodes, c) {
		return true
	}

	return c >= 3000 && c <= 4999
}

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnsupportedData:
		return "unsupported data"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseInvalidFramePayloadData:
		return "invalid frame payload data"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageTooBig:
		return "message too big"
	case CloseMandatoryExtension:
		return "mandatory extension"
	case CloseInternalServerErr:
		return "internal server error"
	case CloseServiceRestart:
		return "service restart"
	case CloseTryAgainLater:
		return "try again later"
	case CloseBadGateway:
		return "bad gateway"
	case CloseTLSHandshake:
		return "TLS handshake"
	}
	return "close code " + strconv.Itoa(int(c))
}

// ClosePayload builds the body of a Close frame. CloseNoStatusReceived
// produces an empty body. Invalid UTF-8 is dropped from the reason and
// reasons longer than MaxCloseReason are cut on a UTF-8 boundary.
func ClosePayload(code CloseCode, reason string) []byte {
	if code == CloseNoStatusReceived {
		return []byte{}
	}

	reason = truncateReason(strings.ToValidUTF8(reason, ""))

	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, code.U())
	copy(b[2:], reason)

	return b
}

// ParseClosePayload validates the body of a received Close frame. An empty
// body yields CloseNoStatusReceived.
func ParseClosePayload(payload []byte) (CloseCode, string, error) {
	switch {
	case len(payload) == 0:
		return CloseNoStatusReceived, "", nil
	case len(payload) == 1:
		return 0, "", protocolError(KindClosePayload, CloseProtocolError,
			"close frame must either have 0 or 2+ payload length, but received 1")
	}

	code, ok := NewCloseCode(binary.BigEndian.Uint16(payload))
	if !ok {
		return 0, "", protocolError(KindClosePayload, CloseProtocolError,
			"received invalid close code: %d", code)
	}

	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", protocolError(KindInvalidUTF8, CloseInvalidFramePayloadData,
			"close frame reason must be valid UTF-8")
	}

	return code, string(reason), nil
}

func truncateReason(reason string) string {
	if len(reason) <= MaxCloseReason {
		return reason
	}

	cut := MaxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}

	return reason[:cut]
}
