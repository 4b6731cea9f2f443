package websocket

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

const (
	// handshakeKeySize is the size of the decoded Sec-WebSocket-Key nonce
	// per RFC 6455, section 4.1, item 7.
	handshakeKeySize = 16

	// encodedKeySize is the base64 length of a handshake key.
	encodedKeySize = 24
)

var (
	// ErrInvalidHeader is returned for a header name or value that is not
	// allowed on the wire (RFC 7230, section 3.2).
	ErrInvalidHeader = errors.New("websocket: invalid header")

	// ErrReservedHeader is returned when adding a header that the handshake
	// generates itself.
	ErrReservedHeader = errors.New("websocket: reserved header")
)

// randReader supplies handshake nonces and frame masking keys.
var randReader io.Reader = rand.Reader

var reservedHeaders = map[string]struct{}{
	"Host":                  {},
	"Upgrade":               {},
	"Connection":            {},
	"Sec-Websocket-Key":     {},
	"Sec-Websocket-Version": {},
}

type headerField struct {
	name  string
	value string
}

// Header is an ordered set of extra handshake headers. Names are unique
// ignoring case and are kept in canonical form. Fields are written in the
// order they were first set.
type Header struct {
	fields []headerField
}

// Set adds the header or replaces the value of an existing one in place.
func (h *Header) Set(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, name)
	}

	name = textproto.CanonicalMIMEHeaderKey(name)
	if _, ok := reservedHeaders[name]; ok {
		return fmt.Errorf("%w: %s", ErrReservedHeader, name)
	}

	if i := h.index(name); i >= 0 {
		h.fields[i].value = value
		return nil
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
	return nil
}

// Get returns the value of the named header, or "" if it is not set.
func (h *Header) Get(name string) string {
	if i := h.index(textproto.CanonicalMIMEHeaderKey(name)); i >= 0 {
		return h.fields[i].value
	}
	return ""
}

// Del removes the named header.
func (h *Header) Del(name string) {
	if i := h.index(textproto.CanonicalMIMEHeaderKey(name)); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Len returns the number of headers.
func (h *Header) Len() int {
	return len(h.fields)
}

// Names returns the header names in write order.
func (h *Header) Names() []string {
	names := make([]string, len(h.fields))
	for i, f := range h.fields {
		names[i] = f.name
	}
	return names
}

func (h *Header) index(canonical string) int {
	for i, f := range h.fields {
		if f.name == canonical {
			return i
		}
	}
	return -1
}

// makeKey returns the base64 form of key, or of a fresh random nonce when
// key is nil. The nonce is not a secret (RFC 6455, section 10.3 only
// requires it to be unpredictable per connection).
func makeKey(key *[handshakeKeySize]byte) ([encodedKeySize]byte, error) {
	var raw [handshakeKeySize]byte
	if key != nil {
		raw = *key
	} else if _, err := io.ReadFull(randReader, raw[:]); err != nil {
		return [encodedKeySize]byte{}, err
	}

	var encoded [encodedKeySize]byte
	base64.StdEncoding.Encode(encoded[:], raw[:])
	return encoded, nil
}

// defaultPort returns the explicit port of t, or the well-known port of
// its scheme. ok is false for unknown schemes without a port.
func defaultPort(t Target) (port uint16, ok bool) {
	if t.Port != 0 {
		return t.Port, true
	}

	switch t.Scheme {
	case "https", "wss":
		return 443, true
	case "http", "ws":
		return 80, true
	default:
		return 0, false
	}
}

// buildRequest serializes the client opening handshake per RFC 6455,
// section 4.1. The Host header always carries the port, including the
// scheme's default one.
func buildRequest(t Target, key []byte, extra *Header) []byte {
	buf := make([]byte, 0, 192)

	buf = append(buf, "GET "...)
	buf = append(buf, t.RequestURI()...)
	buf = append(buf, " HTTP/1.1\r\n"...)

	if t.Host != "" {
		buf = append(buf, "Host: "...)
		buf = append(buf, t.hostPort()...)
		buf = append(buf, "\r\n"...)
	}

	buf = append(buf, "Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: "...)
	buf = append(buf, key...)
	buf = append(buf, "\r\nSec-WebSocket-Version: "+websocketVersion+"\r\n"...)

	if extra != nil {
		for _, f := range extra.fields {
			buf = append(buf, f.name...)
			buf = append(buf, ": "...)
			buf = append(buf, f.value...)
			buf = append(buf, "\r\n"...)
		}
	}

	return append(buf, "\r\n"...)
}

func formatPort(port uint16) string {
	return strconv.FormatUint(uint64(port), 10)
}
