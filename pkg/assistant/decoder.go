package assistant

import (
	"strings"
	"unicode/utf8"
)

// decoder turns a byte stream into text without splitting multi-byte runes
// across chunks. Invalid sequences become U+FFFD.
type decoder struct {
	pending []byte
}

func (d *decoder) decode(p []byte) string {
	data := append(d.pending, p...)
	cut := len(data) - incompleteSuffix(data)

	d.pending = append(d.pending[:0:0], data[cut:]...)
	return replaceInvalid(data[:cut])
}

// flush returns whatever is still buffered at end of stream.
func (d *decoder) flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	out := replaceInvalid(d.pending)
	d.pending = nil
	return out
}

// replaceInvalid writes one U+FFFD per ill-formed sequence. A truncated
// multi-byte prefix counts as one sequence; each other bad byte is its own.
func replaceInvalid(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			size = truncatedPrefix(b)
		}
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// truncatedPrefix returns the length of the longest prefix of b that could
// still begin a valid rune, and at least 1.
func truncatedPrefix(b []byte) int {
	n := 1
	for n < len(b) && n < utf8.UTFMax && !utf8.FullRune(b[:n+1]) {
		n++
	}
	return n
}

// incompleteSuffix reports how many trailing bytes form the start of a rune
// whose remaining bytes have not arrived yet.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}
