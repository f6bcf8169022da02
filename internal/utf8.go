package internal

import (
	"unicode/utf8"
)

// UTF8Validator checks text split across arbitrary chunk boundaries. A code
// point cut by a boundary is carried over to the next chunk, and the input is
// rejected as soon as a byte sequence can no longer become valid UTF-8.
type UTF8Validator struct {
	pending [utf8.UTFMax]byte
	n       int
}

// Write feeds the next chunk. It returns false once the stream is invalid.
func (v *UTF8Validator) Write(p []byte) bool {
	if v.n > 0 {
		need := sequenceLen(v.pending[0]) - v.n
		take := min(need, len(p))
		copy(v.pending[v.n:], p[:take])
		v.n += take
		p = p[take:]

		if take < need {
			return validPrefix(v.pending[:v.n])
		}
		if !utf8.Valid(v.pending[:v.n]) {
			return false
		}
		v.n = 0
	}

	cut := len(p)
	for i := len(p) - 1; i >= 0 && i >= len(p)-(utf8.UTFMax-1); i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				cut = i
			}
			break
		}
	}

	if !utf8.Valid(p[:cut]) {
		return false
	}
	if cut < len(p) {
		if !validPrefix(p[cut:]) {
			return false
		}
		v.n = copy(v.pending[:], p[cut:])
	}

	return true
}

// Done reports whether the stream ended on a code point boundary and resets
// the validator.
func (v *UTF8Validator) Done() bool {
	ok := v.n == 0
	v.Reset()
	return ok
}

func (v *UTF8Validator) Reset() {
	v.n = 0
}

func sequenceLen(b byte) int {
	switch {
	case b >= 0xF0:
		return 4
	case b >= 0xE0:
		return 3
	case b >= 0xC0:
		return 2
	}
	return 1
}

// validPrefix reports whether p is the start of a well-formed but incomplete
// sequence, following the byte ranges of Unicode table 3-7.
func validPrefix(p []byte) bool {
	if len(p) == 0 {
		return true
	}

	var size int
	lo, hi := byte(0x80), byte(0xBF)

	switch b := p[0]; {
	case b >= 0xC2 && b <= 0xDF:
		size = 2
	case b == 0xE0:
		size, lo = 3, 0xA0
	case b == 0xED:
		size, hi = 3, 0x9F
	case b >= 0xE1 && b <= 0xEF:
		size = 3
	case b == 0xF0:
		size, lo = 4, 0x90
	case b >= 0xF1 && b <= 0xF3:
		size = 4
	case b == 0xF4:
		size, hi = 4, 0x8F
	default:
		return false
	}

	if len(p) >= size {
		return false
	}

	for i := 1; i < len(p); i++ {
		if i == 1 {
			if p[i] < lo || p[i] > hi {
				return false
			}
			continue
		}
		if p[i] < 0x80 || p[i] > 0xBF {
			return false
		}
	}

	return true
}
