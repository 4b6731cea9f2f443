package websocket

import (
	"encoding/binary"
	"errors"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/vitalvas/wsclient/utf8stream"
)

// maxCloseReasonSize is what remains of a control frame payload after the
// 2-byte status code.
const maxCloseReasonSize = maxControlFramePayloadSize - 2

// CloseError represents a close frame received from the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return "websocket: close " + closeCodeString(e.Code) + " " + e.Text
}

func closeCodeString(code int) string {
	switch code {
	case CloseNormalClosure:
		return "1000 (normal)"
	case CloseGoingAway:
		return "1001 (going away)"
	case CloseProtocolError:
		return "1002 (protocol error)"
	case CloseUnsupportedData:
		return "1003 (unsupported data)"
	case CloseNoStatusReceived:
		return "1005 (no status)"
	case CloseAbnormalClosure:
		return "1006 (abnormal closure)"
	case CloseInvalidFramePayloadData:
		return "1007 (invalid payload)"
	case ClosePolicyViolation:
		return "1008 (policy violation)"
	case CloseMessageTooBig:
		return "1009 (message too big)"
	case CloseMandatoryExtension:
		return "1010 (mandatory extension)"
	case CloseInternalServerErr:
		return "1011 (internal server error)"
	case CloseServiceRestart:
		return "1012 (service restart)"
	case CloseTryAgainLater:
		return "1013 (try again later)"
	case CloseTLSHandshake:
		return "1015 (TLS handshake)"
	default:
		return strconv.Itoa(code)
	}
}

// validCloseCode reports whether code may be carried by a close frame on the
// wire. 1005, 1006 and 1015 are reserved for local reporting, 1004 is
// unassigned (RFC 6455, section 7.4).
func validCloseCode(code int) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code < CloseNormalClosure || code > 1014:
		return false
	}

	switch code {
	case 1004, CloseNoStatusReceived, CloseAbnormalClosure:
		return false
	}
	return true
}

// FormatCloseMessage formats closeCode and text as a close frame body per
// RFC 6455, section 5.5.1. CloseNoStatusReceived yields an empty body.
// A reason that does not fit a control frame is cut at the last codepoint
// boundary that does.
func FormatCloseMessage(closeCode int, text string) []byte {
	if closeCode == CloseNoStatusReceived {
		return []byte{}
	}

	if len(text) > maxCloseReasonSize {
		i := maxCloseReasonSize
		for i > 0 && !utf8.RuneStart(text[i]) {
			i--
		}
		text = text[:i]
	}

	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf, uint16(closeCode))
	copy(buf[2:], text)
	return buf
}

// parseClosePayload decodes a close frame body. An empty body means no
// status code was sent. The reason must be valid UTF-8 (RFC 6455,
// section 5.5.1).
func parseClosePayload(payload []byte) (code int, text string, err error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", ErrInvalidCloseFrame
	}

	code = int(binary.BigEndian.Uint16(payload))
	if !validCloseCode(code) {
		return 0, "", ErrInvalidCloseFrame
	}

	text, err = utf8stream.ParseString(payload[2:])
	if err != nil {
		return 0, "", err
	}
	return code, text, nil
}

// IsCloseError returns true if the error is a CloseError with one of the specified codes.
func IsCloseError(err error, codes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return slices.Contains(codes, closeErr.Code)
}

// IsUnexpectedCloseError returns true if the error is a CloseError with a code
// not in expectedCodes.
func IsUnexpectedCloseError(err error, expectedCodes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return !slices.Contains(expectedCodes, closeErr.Code)
}
