// Package streambuf reassembles streamed text that may split a UTF-8 byte
// sequence, or a UTF-16 surrogate pair carried in WTF-8 form, across
// arbitrary chunk boundaries. Providers emit deltas produced from UTF-16
// text, so a chunk can legally end in the middle of an emoji.
package streambuf

import (
	"unicode/utf16"
	"unicode/utf8"
)

const (
	surr1 = 0xd800 // first high surrogate
	surr2 = 0xdc00 // first low surrogate
	surr3 = 0xe000 // one past last low surrogate
)

// Buffer is a per-direction cursor over a chunked text stream. It holds at
// most one pending UTF-16 high surrogate plus any incomplete trailing UTF-8
// byte sequence. Not safe for concurrent use; each stream direction owns its
// own Buffer.
type Buffer struct {
	partial []byte   // incomplete trailing byte sequence from the last chunk
	pending []uint16 // at most one high surrogate awaiting its low half
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Process consumes one chunk and returns the longest prefix of the buffered
// input that cannot end on an unpaired high surrogate or a truncated byte
// sequence. Whatever is held back is emitted by a later Process or by Flush.
func (b *Buffer) Process(chunk string) string {
	data := chunk
	if len(b.partial) > 0 {
		data = string(b.partial) + chunk
		b.partial = nil
	}

	units, tail := decodeUnits(data)
	b.partial = tail

	if len(b.pending) > 0 {
		units = append(b.pending, units...)
		b.pending = nil
	}

	if n := len(units); n > 0 && isHighSurrogate(units[n-1]) {
		b.pending = []uint16{units[n-1]}
		units = units[:n-1]
	}

	if len(units) == 0 {
		return ""
	}
	return string(utf16.Decode(units))
}

// Flush drains any buffered state. A lone high surrogate becomes U+FFFD, as
// does a truncated byte sequence. Returns the empty string when nothing is
// buffered. Must be called exactly once, at stream end.
func (b *Buffer) Flush() string {
	var out string
	if len(b.pending) > 0 {
		out += string(utf16.Decode(b.pending))
		b.pending = nil
	}
	if len(b.partial) > 0 {
		out += string(utf8.RuneError)
		b.partial = nil
	}
	return out
}

func isHighSurrogate(u uint16) bool {
	return surr1 <= u && u < surr2
}

// decodeUnits converts a byte stream into UTF-16 code units, passing WTF-8
// encoded surrogate halves through as their code unit. A truncated trailing
// sequence is returned separately so the caller can retry with the next
// chunk appended.
func decodeUnits(s string) ([]uint16, []byte) {
	units := make([]uint16, 0, len(s))
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r != utf8.RuneError || size > 1 {
			units = utf16.AppendRune(units, r)
			i += size
			continue
		}

		rest := s[i:]
		if u, n, ok := decodeSurrogateUnit(rest); ok {
			units = append(units, u)
			i += n
			continue
		}
		if isTruncatedSequence(rest) {
			return units, []byte(rest)
		}

		// Plain garbage byte: substitute and move on.
		units = append(units, utf8.RuneError)
		i++
	}
	return units, nil
}

// decodeSurrogateUnit recognizes the 3-byte WTF-8 encoding of a single
// surrogate code unit (ED A0..BF 80..BF).
func decodeSurrogateUnit(s string) (uint16, int, bool) {
	if len(s) < 3 {
		return 0, 0, false
	}
	if s[0] != 0xed || s[1] < 0xa0 || s[1] > 0xbf || s[2] < 0x80 || s[2] > 0xbf {
		return 0, 0, false
	}
	u := uint16(s[0]&0x0f)<<12 | uint16(s[1]&0x3f)<<6 | uint16(s[2]&0x3f)
	return u, 3, true
}

// isTruncatedSequence reports whether s is an incomplete prefix of a multi-byte
// UTF-8 (or WTF-8 surrogate) encoding. Only meaningful for the tail of a chunk.
func isTruncatedSequence(s string) bool {
	if len(s) == 0 {
		return false
	}
	b0 := s[0]

	var want int
	switch {
	case b0 >= 0xc2 && b0 <= 0xdf:
		want = 2
	case b0 >= 0xe0 && b0 <= 0xef:
		want = 3
	case b0 >= 0xf0 && b0 <= 0xf4:
		want = 4
	default:
		return false
	}
	if len(s) >= want {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < 0x80 || s[i] > 0xbf {
			return false
		}
	}
	return true
}
