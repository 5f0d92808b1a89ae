package protocol

import "unicode/utf8"

// OutputEncoder turns shell output chunks into strings for console_output.
// A multi-byte character split across two chunks is held back until the
// rest of it arrives, so it is not replaced by U+FFFD when marshaled.
type OutputEncoder struct {
	pending []byte
}

// Encode returns the printable prefix of pending+chunk and keeps any
// incomplete trailing character for the next call.
func (e *OutputEncoder) Encode(chunk []byte) string {
	data := chunk
	if len(e.pending) > 0 {
		data = append(e.pending, chunk...)
		e.pending = nil
	}

	cut := incompleteTail(data)
	if cut < len(data) {
		e.pending = append([]byte(nil), data[cut:]...)
	}
	return string(data[:cut])
}

// Flush returns any held-back bytes.
func (e *OutputEncoder) Flush() string {
	out := string(e.pending)
	e.pending = nil
	return out
}

// incompleteTail returns the index at which a truncated trailing UTF-8
// sequence starts, or len(b) if b ends on a character boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
