package websocket

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
)

// WebSocket protocol constants per RFC 6455.
const (
	// websocketGUID is the globally unique identifier for WebSocket handshake
	// per RFC 6455, section 4.2.2, item 5.4.
	websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// websocketVersion is the WebSocket protocol version per RFC 6455, section 4.2.1, item 6.
	websocketVersion = "13"
)

var (
	// ErrBadHandshake is matched by every *HandshakeError.
	ErrBadHandshake = errors.New("websocket: bad handshake")

	// ErrNoUpgradeResponse is returned when the peer closes the stream
	// before sending any part of the handshake response.
	ErrNoUpgradeResponse = errors.New("websocket: no upgrade response")
)

// HandshakeError describes a handshake response that does not complete the
// upgrade. errors.Is(err, ErrBadHandshake) holds for it.
type HandshakeError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Reason names the check that failed.
	Reason string
}

func (e *HandshakeError) Error() string {
	return "websocket: bad handshake: " + e.Reason
}

func (e *HandshakeError) Unwrap() error {
	return ErrBadHandshake
}

// readUpgradeResponse reads exactly one HTTP response from br and validates
// it against the request sent with key. Bytes following the response stay
// buffered in br.
func readUpgradeResponse(br *bufio.Reader, key string) error {
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoUpgradeResponse
		}
		return err
	}

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkUpgradeResponse(resp, key)
}

// checkUpgradeResponse validates the server handshake per RFC 6455, section 4.1,
// client requirements 1 to 4.
func checkUpgradeResponse(resp *http.Response, key string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return &HandshakeError{StatusCode: resp.StatusCode, Reason: "unexpected status " + resp.Status}
	}

	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return &HandshakeError{StatusCode: resp.StatusCode, Reason: "missing Upgrade: websocket"}
	}

	if !headerContainsToken(resp.Header, "Connection", "upgrade") {
		return &HandshakeError{StatusCode: resp.StatusCode, Reason: "missing Connection: Upgrade"}
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return &HandshakeError{StatusCode: resp.StatusCode, Reason: "Sec-WebSocket-Accept mismatch"}
	}

	return nil
}

// computeAcceptKey computes the Sec-WebSocket-Accept value per RFC 6455, section 4.2.2, item 5.4.
// The accept key is the base64-encoded SHA-1 hash of the challenge key concatenated with the GUID.
func computeAcceptKey(challengeKey string) string {
	h := sha1.New()
	h.Write([]byte(challengeKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerContainsToken checks if a header contains a specific token (case-insensitive).
// Tokens may be comma-separated (e.g., "Connection: keep-alive, Upgrade").
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
