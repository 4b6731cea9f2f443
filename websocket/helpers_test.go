package websocket

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// newUpgradeServer starts an HTTP server that answers the opening
// handshake on the hijacked connection and passes the server side of the
// WebSocket connection to serve.
func newUpgradeServer(t *testing.T, secure bool, serve func(r *http.Request, c *Conn)) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Sec-WebSocket-Key")

		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijack unsupported", http.StatusInternalServerError)
			return
		}

		netConn, brw, err := hj.Hijack()
		if err != nil {
			return
		}

		fmt.Fprintf(brw, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", computeAcceptKey(key))
		if err := brw.Flush(); err != nil {
			netConn.Close()
			return
		}

		c := newConn(netConn, brw.Reader, RoleServer)
		defer c.Close()
		serve(r, c)
	})

	var server *httptest.Server
	if secure {
		server = httptest.NewTLSServer(handler)
	} else {
		server = httptest.NewServer(handler)
	}
	t.Cleanup(server.Close)

	return server
}

// echo writes every message back until the connection fails.
func echo(_ *http.Request, c *Conn) {
	for {
		messageType, p, err := c.ReadMessage()
		if err != nil {
			return
		}
		if err := c.WriteMessage(messageType, p); err != nil {
			return
		}
	}
}

func wsURL(server *httptest.Server) string {
	if strings.HasPrefix(server.URL, "https") {
		return "wss" + strings.TrimPrefix(server.URL, "https")
	}
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// fakeStream is an in-memory stream: reads come from r, writes are recorded.
type fakeStream struct {
	r io.Reader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newFakeStream(response string) *fakeStream {
	return &fakeStream{r: strings.NewReader(response)}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.Write(p)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// upgradeResponse returns a valid handshake response for encoded key.
func upgradeResponse(key string) string {
	return "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
}

// zeroKeyEncoded is the base64 form of sixteen zero bytes.
const zeroKeyEncoded = "AAAAAAAAAAAAAAAAAAAAAA=="

// readRequestHead reads an HTTP request head, including the blank line,
// from br and returns it verbatim.
func readRequestHead(br *bufio.Reader) (string, error) {
	var head strings.Builder
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if err != nil {
			return head.String(), err
		}
		if line == "\r\n" {
			return head.String(), nil
		}
	}
}

// pipeConns returns a client Conn and the raw server end of a net.Pipe.
func pipeConns(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})

	return newConn(clientSide, nil, RoleClient), serverSide
}

// serverFrame encodes an unmasked frame as a server would send it.
func serverFrame(b0 byte, payload []byte) []byte {
	frame := []byte{b0}
	switch n := len(payload); {
	case n <= 125:
		frame = append(frame, byte(n))
	case n <= 0xffff:
		frame = append(frame, payloadLen16, byte(n>>8), byte(n))
	default:
		panic("payload too large for test frame")
	}
	return append(frame, payload...)
}

// readClientFrame reads one masked frame with a short payload written by a
// client and returns its first byte and unmasked payload.
func readClientFrame(r io.Reader) (byte, []byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if hdr[1]&maskBit == 0 {
		return 0, nil, fmt.Errorf("frame is not masked")
	}

	var mask [4]byte
	if _, err := io.ReadFull(r, mask[:]); err != nil {
		return 0, nil, err
	}

	payload := make([]byte, hdr[1]&payloadLenMask)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	maskBytes(mask, 0, payload)

	return hdr[0], payload, nil
}
