// Package utf8stream validates UTF-8 text that arrives in chunks.
//
// WebSocket text messages (RFC 6455, section 5.6) must be valid UTF-8 as a
// whole, but a message may be split across any number of frames and a frame
// may be read in several pieces. A codepoint can therefore straddle chunk
// boundaries. Validator keeps the unfinished tail of such a codepoint between
// calls so that the caller never has to buffer the whole message.
//
// Example:
//
//	var v utf8stream.Validator
//	if err := v.Feed([]byte{0xc3}, false); err != nil {
//	    return err
//	}
//	if err := v.Feed([]byte{0xa9}, true); err != nil { // "é"
//	    return err
//	}
package utf8stream

import (
	"errors"
	"unicode/utf8"
)

var (
	// ErrInvalidUTF8 is returned when the input is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("utf8stream: invalid UTF-8")

	// ErrCorruptState is returned when the pending codepoint does not start
	// with a UTF-8 leading byte. This indicates a bug in the validator.
	ErrCorruptState = errors.New("utf8stream: corrupt partial codepoint state")
)

// ParseString converts b to a string if it is valid UTF-8.
func ParseString(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// Validator is a streaming UTF-8 validator. The zero value is ready to use.
//
// A Validator is not safe for concurrent use. Chunks of one message must be
// fed in order, and Reset must be called before an unrelated message unless
// the previous one ended with a final chunk.
type Validator struct {
	// partial holds the received prefix of a multi-byte codepoint.
	partial [utf8.UTFMax]byte
	// n is the number of bytes held in partial. It is always smaller than
	// the length announced by partial[0].
	n int
}

// Pending reports whether an incomplete codepoint is waiting for more bytes.
func (v *Validator) Pending() bool {
	return v.n > 0
}

// Reset discards any pending partial codepoint.
func (v *Validator) Reset() {
	v.n = 0
}

// codepointLen returns the encoded length announced by the leading byte of
// the pending codepoint.
func (v *Validator) codepointLen() (int, error) {
	b := v.partial[0]
	switch {
	case b&0x80 == 0x00: // 0xxxxxxx
		return 1, nil
	case b&0xe0 == 0xc0: // 110xxxxx
		return 2, nil
	case b&0xf0 == 0xe0: // 1110xxxx
		return 3, nil
	case b&0xf8 == 0xf0: // 11110xxx
		return 4, nil
	default:
		return 0, ErrCorruptState
	}
}

// Feed validates the next chunk of a message. When final is true the chunk
// ends the message and a trailing incomplete codepoint is an error;
// otherwise the incomplete tail is kept until the next call.
//
// After an error the validator state is undefined for the current message.
func (v *Validator) Feed(p []byte, final bool) error {
	rest := p

	if v.n > 0 {
		if len(p) == 0 && !final {
			return nil
		}

		want, err := v.codepointLen()
		if err != nil {
			return err
		}

		missing := want - v.n
		take := min(len(p), missing)
		copy(v.partial[v.n:], p[:take])
		filled := v.n + take

		if take == missing {
			if !utf8.Valid(v.partial[:filled]) {
				return ErrInvalidUTF8
			}
		} else {
			valid, incomplete := scan(v.partial[:filled])
			switch {
			case valid == filled:
			case incomplete:
				v.n = filled
				if final {
					return ErrInvalidUTF8
				}
				return nil
			default:
				return ErrInvalidUTF8
			}
		}

		v.n = 0
		rest = p[take:]
	}

	if final {
		v.n = 0
		if !utf8.Valid(rest) {
			return ErrInvalidUTF8
		}
		return nil
	}

	valid, incomplete := scan(rest)
	if valid == len(rest) {
		return nil
	}
	if !incomplete {
		return ErrInvalidUTF8
	}

	v.n = copy(v.partial[:], rest[valid:])
	return nil
}

// scan returns the length of the longest valid UTF-8 prefix of b. When b is
// not fully valid, incomplete reports whether the bytes after that prefix
// are the beginning of a codepoint cut off by the end of b, as opposed to an
// encoding error.
func scan(b []byte) (valid int, incomplete bool) {
	if utf8.Valid(b) {
		return len(b), false
	}

	i := 0
	for i < len(b) {
		if b[i] < utf8.RuneSelf {
			i++
			continue
		}

		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			// FullRune is false only for a valid but truncated prefix.
			return i, !utf8.FullRune(b[i:])
		}
		i += size
	}

	return i, false
}
