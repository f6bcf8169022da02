package internal

import (
	"testing"
)

func TestUTF8ValidatorSplits(t *testing.T) {
	text := []byte("Hello-µ@ßöäüàá-UTF-8!! κόσμε 🙂 end")

	for split := 0; split <= len(text); split++ {
		for second := split; second <= len(text); second++ {
			var v UTF8Validator
			ok := v.Write(text[:split]) && v.Write(text[split:second]) && v.Write(text[second:])
			if !ok {
				t.Fatalf("valid text rejected at splits %d/%d", split, second)
			}
			if !v.Done() {
				t.Fatalf("valid text not terminated at splits %d/%d", split, second)
			}
		}
	}
}

func TestUTF8ValidatorByteByByte(t *testing.T) {
	text := []byte("κόσμε🙂")

	var v UTF8Validator
	for i := range text {
		if !v.Write(text[i : i+1]) {
			t.Fatalf("byte %d rejected", i)
		}
	}
	if !v.Done() {
		t.Errorf("stream did not end on a code point boundary")
	}
}

func TestUTF8ValidatorRejects(t *testing.T) {
	testCases := []struct {
		name   string
		chunks [][]byte
		// index of the chunk expected to fail, -1 when only Done fails
		failAt int
	}{
		{"lone continuation", [][]byte{{0x80}}, 0},
		{"overlong", [][]byte{{0xC0, 0xAF}}, 0},
		{"surrogate", [][]byte{{0xED, 0xA0, 0x80}}, 0},
		{"surrogate split", [][]byte{{0xED}, {0xA0}}, 1},
		{"above max code point split", [][]byte{[]byte("κόσμε"), {0xF4}, {0x90, 0x80, 0x80}}, 2},
		{"above max code point", [][]byte{{0xF4, 0x90}}, 0},
		{"invalid start byte", [][]byte{{0xFF}}, 0},
		{"truncated at end", [][]byte{[]byte("ok"), {0xE2, 0x82}}, -1},
		{"bad continuation after pending", [][]byte{{0xE2}, {0x41}}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var v UTF8Validator
			for i, chunk := range tc.chunks {
				ok := v.Write(chunk)
				if i == tc.failAt {
					if ok {
						t.Fatalf("chunk %d accepted, expected rejection", i)
					}
					return
				}
				if !ok {
					t.Fatalf("chunk %d rejected early", i)
				}
			}
			if v.Done() {
				t.Errorf("Done() = true, expected false")
			}
		})
	}
}
