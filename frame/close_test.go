package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCloseCodeIsValid(t *testing.T) {
	valid := []CloseCode{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 1012, 1013, 1014, 3000, 4999}
	invalid := []CloseCode{0, 999, 1004, 1005, 1006, 1015, 1016, 1100, 2000, 2999, 5000, 65535}

	for _, c := range valid {
		if !c.IsValid() {
			t.Errorf("%d should be valid", c)
		}
	}
	for _, c := range invalid {
		if c.IsValid() {
			t.Errorf("%d should be invalid", c)
		}
	}
}

func TestClosePayload(t *testing.T) {
	testCases := []struct {
		code     CloseCode
		reason   string
		expected []byte
	}{
		{CloseNormalClosure, "", []byte{0x03, 0xE8}},
		{CloseNormalClosure, "bye", []byte{0x03, 0xE8, 'b', 'y', 'e'}},
		{CloseMessageTooBig, "", []byte{0x03, 0xF1}},
		{CloseNoStatusReceived, "ignored", []byte{}},
		{CloseNormalClosure, "bad\xff", []byte{0x03, 0xE8, 'b', 'a', 'd'}},
		{CloseGoingAway, "\xc3", []byte{0x03, 0xE9}},
	}

	for _, tc := range testCases {
		got := ClosePayload(tc.code, tc.reason)
		if !bytes.Equal(got, tc.expected) {
			t.Errorf("ClosePayload(%d, %q) = %v, expected %v", tc.code, tc.reason, got, tc.expected)
		}
		if _, _, err := ParseClosePayload(got); err != nil {
			t.Errorf("ClosePayload(%d, %q) is rejected by ParseClosePayload: %v", tc.code, tc.reason, err)
		}
	}
}

func TestClosePayloadTruncatesReason(t *testing.T) {
	// 3-byte runes, 41 of them fill 123 bytes exactly, one more overflows
	reason := strings.Repeat("€", 42)

	payload := ClosePayload(CloseGoingAway, reason)
	if len(payload) > MaxControlPayload {
		t.Fatalf("payload of %d bytes exceeds %d", len(payload), MaxControlPayload)
	}
	if !utf8.Valid(payload[2:]) {
		t.Errorf("truncated reason is not valid UTF-8")
	}
	if len(payload[2:]) != 123 {
		t.Errorf("reason truncated to %d bytes, expected 123", len(payload[2:]))
	}

	payload = ClosePayload(CloseGoingAway, "x"+strings.Repeat("€", 41))
	if len(payload[2:]) != 121 || !utf8.Valid(payload[2:]) {
		t.Errorf("reason cut inside a rune: %d bytes", len(payload[2:]))
	}
}

func TestParseClosePayload(t *testing.T) {
	code, reason, err := ParseClosePayload([]byte{0x03, 0xE8, 'o', 'k'})
	if err != nil || code != CloseNormalClosure || reason != "ok" {
		t.Errorf("ParseClosePayload = %d, %q, %v", code, reason, err)
	}

	code, reason, err = ParseClosePayload(nil)
	if err != nil || code != CloseNoStatusReceived || reason != "" {
		t.Errorf("ParseClosePayload(empty) = %d, %q, %v", code, reason, err)
	}

	errorCases := []struct {
		name    string
		payload []byte
		code    CloseCode
	}{
		{"single byte", []byte{0x03}, CloseProtocolError},
		{"reserved code", []byte{0x03, 0xED}, CloseProtocolError},
		{"local only code", []byte{0x03, 0xEE}, CloseProtocolError},
		{"out of range code", []byte{0x13, 0x88}, CloseProtocolError},
		{"invalid reason", []byte{0x03, 0xE8, 0xce, 0xba, 0xe1, 0xbd, 0xb9, 0xcf, 0x83, 0xce, 0xbc, 0xce, 0xb5, 0xed, 0xa0, 0x80, 0x65, 0x64, 0x69, 0x74, 0x65, 0x64}, CloseInvalidFramePayloadData},
	}

	for _, tc := range errorCases {
		_, _, err := ParseClosePayload(tc.payload)

		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("%s: got %v, expected a protocol error", tc.name, err)
			continue
		}
		if perr.Code != tc.code {
			t.Errorf("%s: close code %d, expected %d", tc.name, perr.Code, tc.code)
		}
	}
}
