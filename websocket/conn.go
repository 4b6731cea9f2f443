package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vitalvas/wsclient/utf8stream"
)

// Message types defined in RFC 6455, section 11.8.
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
	PingMessage   = 9
	PongMessage   = 10
)

// Close codes defined in RFC 6455, section 7.4.1.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
	CloseServiceRestart          = 1012
	CloseTryAgainLater           = 1013
	CloseTLSHandshake            = 1015
)

// Errors returned by the websocket package.
var (
	ErrCloseSent                 = errors.New("websocket: close sent")
	ErrReadLimit                 = errors.New("websocket: read limit exceeded")
	ErrInvalidControlFrame       = errors.New("websocket: invalid control frame")
	ErrInvalidMessageType        = errors.New("websocket: invalid message type")
	ErrWriteToClosedConnection   = errors.New("websocket: write to closed connection")
	ErrInvalidCloseFrame         = errors.New("websocket: invalid close frame")
	ErrReservedBits              = errors.New("websocket: reserved bits set")
	ErrInvalidOpcode             = errors.New("websocket: invalid opcode")
	ErrInvalidPayloadLength      = errors.New("websocket: invalid payload length")
	ErrBadMask                   = errors.New("websocket: bad frame masking")
	ErrFragmentedControlFrame    = errors.New("websocket: fragmented control frame")
	ErrControlFramePayloadTooBig = errors.New("websocket: control frame payload too big")
	ErrUnexpectedContinuation    = errors.New("websocket: unexpected continuation frame")
	ErrExpectedContinuation      = errors.New("websocket: expected continuation frame")

	// ErrInvalidUTF8 is returned when a text message or close reason is not
	// valid UTF-8. The connection must be considered failed
	// (RFC 6455, section 8.1).
	ErrInvalidUTF8 = utf8stream.ErrInvalidUTF8
)

// Role identifies which end of the connection a Conn is. Clients mask the
// frames they send, servers must not (RFC 6455, section 5.1).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Frame header constants per RFC 6455, section 5.2.
const (
	maxFrameHeaderSize         = 14  // 2 bytes base + 8 bytes extended length + 4 bytes mask
	maxControlFramePayloadSize = 125 // RFC 6455, section 5.5: control frame payload <= 125 bytes
	defaultReadBufferSize      = 4096
	defaultWriteBufferSize     = 4096

	finalBit = 1 << 7
	rsvBits  = 0x70 // RSV1-3, no extension is ever negotiated
	maskBit  = 1 << 7

	opcodeMask     = 0x0f
	payloadLenMask = 0x7f
	payloadLen16   = 126
	payloadLen64   = 127

	continuationFrame = 0

	closeGracePeriod = time.Second
)

// Conn is a WebSocket connection after a completed opening handshake.
//
// Conn supports one concurrent reader and one concurrent writer. Close may
// be called concurrently with other methods.
type Conn struct {
	rwc     io.ReadWriteCloser
	netConn net.Conn // nil unless rwc is a net.Conn
	br      *bufio.Reader
	role    Role

	readMu     sync.Mutex
	readErr    error
	readLimit  int64
	readLength int64
	reader     *messageReader
	hbuf       [maxFrameHeaderSize]byte
	text       utf8stream.Validator

	writeMu  sync.Mutex
	writeErr error
	writeBuf []byte

	pingHandler  func(appData string) error
	pongHandler  func(appData string) error
	closeHandler func(code int, text string) error
}

// newConn returns a connection reading through br, which may already hold
// bytes received after the handshake. A nil br reads rwc directly.
func newConn(rwc io.ReadWriteCloser, br *bufio.Reader, role Role) *Conn {
	if br == nil {
		br = bufio.NewReaderSize(rwc, defaultReadBufferSize)
	}

	c := &Conn{
		rwc:      rwc,
		br:       br,
		role:     role,
		writeBuf: make([]byte, 0, defaultWriteBufferSize+maxFrameHeaderSize),
	}
	c.netConn, _ = rwc.(net.Conn)

	c.SetPingHandler(nil)
	c.SetPongHandler(nil)
	c.SetCloseHandler(nil)

	return c
}

// Role returns the side of the connection this Conn represents.
func (c *Conn) Role() Role {
	return c.role
}

// Close closes the underlying stream without sending a close frame.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// LocalAddr returns the local network address, or nil if not available.
func (c *Conn) LocalAddr() net.Addr {
	if c.netConn != nil {
		return c.netConn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address, or nil if not available.
func (c *Conn) RemoteAddr() net.Addr {
	if c.netConn != nil {
		return c.netConn.RemoteAddr()
	}
	return nil
}

// UnderlyingConn returns the underlying net.Conn, or nil if the connection
// was established over a stream that is not a net.Conn.
func (c *Conn) UnderlyingConn() net.Conn {
	return c.netConn
}

// SetReadDeadline sets the read deadline on the underlying network connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	if c.netConn != nil {
		return c.netConn.SetReadDeadline(t)
	}
	return nil
}

// SetWriteDeadline sets the write deadline on the underlying network connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	if c.netConn != nil {
		return c.netConn.SetWriteDeadline(t)
	}
	return nil
}

// SetReadLimit sets the maximum size in bytes of a message read from the
// peer. Zero means no limit.
func (c *Conn) SetReadLimit(limit int64) {
	c.readLimit = limit
}

// SetPingHandler sets the handler for ping messages. The default handler
// answers with a pong carrying the same application data.
func (c *Conn) SetPingHandler(h func(appData string) error) {
	if h == nil {
		h = func(appData string) error {
			err := c.WriteControl(PongMessage, []byte(appData), time.Now().Add(closeGracePeriod))
			if errors.Is(err, ErrCloseSent) {
				return nil
			}
			return err
		}
	}
	c.pingHandler = h
}

// SetPongHandler sets the handler for pong messages.
func (c *Conn) SetPongHandler(h func(appData string) error) {
	if h == nil {
		h = func(string) error { return nil }
	}
	c.pongHandler = h
}

// SetCloseHandler sets the handler for close messages. The default handler
// echoes the close code back to the peer.
func (c *Conn) SetCloseHandler(h func(code int, text string) error) {
	if h == nil {
		h = func(code int, _ string) error {
			_ = c.WriteControl(CloseMessage, FormatCloseMessage(code, ""), time.Now().Add(closeGracePeriod))
			return nil
		}
	}
	c.closeHandler = h
}

// frameHeader is a decoded frame header per RFC 6455, section 5.2.
type frameHeader struct {
	final  bool
	opcode int
	masked bool
	mask   [4]byte
	length int64
}

func isControl(opcode int) bool {
	return opcode >= CloseMessage
}

// isProtocolError reports whether err is a framing violation detected by
// readHeader, as opposed to a transport error.
func isProtocolError(err error) bool {
	switch err {
	case ErrReservedBits, ErrInvalidOpcode, ErrInvalidPayloadLength, ErrBadMask,
		ErrControlFramePayloadTooBig, ErrFragmentedControlFrame:
		return true
	}
	return false
}

func (c *Conn) readHeader() (frameHeader, error) {
	var h frameHeader

	b := c.hbuf[:2]
	if _, err := io.ReadFull(c.br, b); err != nil {
		return h, err
	}

	if b[0]&rsvBits != 0 {
		return h, ErrReservedBits
	}

	h.final = b[0]&finalBit != 0
	h.opcode = int(b[0] & opcodeMask)
	h.masked = b[1]&maskBit != 0
	h.length = int64(b[1] & payloadLenMask)

	switch h.opcode {
	case continuationFrame, TextMessage, BinaryMessage, CloseMessage, PingMessage, PongMessage:
	default:
		return h, ErrInvalidOpcode
	}

	switch h.length {
	case payloadLen16:
		if _, err := io.ReadFull(c.br, c.hbuf[2:4]); err != nil {
			return h, err
		}
		h.length = int64(binary.BigEndian.Uint16(c.hbuf[2:4]))
	case payloadLen64:
		if _, err := io.ReadFull(c.br, c.hbuf[2:10]); err != nil {
			return h, err
		}
		n := binary.BigEndian.Uint64(c.hbuf[2:10])
		if n>>63 != 0 {
			return h, ErrInvalidPayloadLength
		}
		h.length = int64(n)
	}

	if h.masked != (c.role == RoleServer) {
		return h, ErrBadMask
	}
	if h.masked {
		if _, err := io.ReadFull(c.br, h.mask[:]); err != nil {
			return h, err
		}
	}

	if isControl(h.opcode) {
		if h.length > maxControlFramePayloadSize {
			return h, ErrControlFramePayloadTooBig
		}
		if !h.final {
			return h, ErrFragmentedControlFrame
		}
	}

	return h, nil
}

// nextDataFrame reads frame headers until a data frame arrives, dispatching
// control frames to their handlers on the way. The data frame payload is left
// in br for the message reader.
func (c *Conn) nextDataFrame() (frameHeader, error) {
	for {
		h, err := c.readHeader()
		if err != nil {
			if isProtocolError(err) {
				c.fail(CloseProtocolError)
			}
			return h, err
		}

		if !isControl(h.opcode) {
			if c.readLimit > 0 && h.length > c.readLimit-c.readLength {
				c.fail(CloseMessageTooBig)
				return h, ErrReadLimit
			}
			c.readLength += h.length
			return h, nil
		}

		payload := make([]byte, h.length)
		if _, err := io.ReadFull(c.br, payload); err != nil {
			return h, err
		}
		if h.masked {
			maskBytes(h.mask, 0, payload)
		}

		if err := c.handleControl(h.opcode, payload); err != nil {
			return h, err
		}
	}
}

func (c *Conn) handleControl(opcode int, payload []byte) error {
	switch opcode {
	case PingMessage:
		return c.pingHandler(string(payload))
	case PongMessage:
		return c.pongHandler(string(payload))
	}

	code, text, err := parseClosePayload(payload)
	if err != nil {
		if errors.Is(err, ErrInvalidUTF8) {
			c.fail(CloseInvalidFramePayloadData)
		} else {
			c.fail(CloseProtocolError)
		}
		return err
	}

	if err := c.closeHandler(code, text); err != nil {
		return err
	}
	return &CloseError{Code: code, Text: text}
}

// fail sends a best-effort close frame with code before the read side
// reports an error.
func (c *Conn) fail(code int) {
	_ = c.WriteControl(CloseMessage, FormatCloseMessage(code, ""), time.Now().Add(closeGracePeriod))
}

func (c *Conn) setReadErr(err error) error {
	c.readErr = err
	return err
}

// feedText validates a chunk of a text message. final is set on the last
// chunk of the frame carrying the FIN bit.
func (c *Conn) feedText(p []byte, final bool) error {
	if err := c.text.Feed(p, final); err != nil {
		c.fail(CloseInvalidFramePayloadData)
		return err
	}
	return nil
}

// ReadMessage reads the next message from the connection.
func (c *Conn) ReadMessage() (messageType int, p []byte, err error) {
	var r io.Reader
	messageType, r, err = c.NextReader()
	if err != nil {
		return 0, nil, err
	}
	p, err = io.ReadAll(r)
	return messageType, p, err
}

// NextReader returns a reader for the next data message. Any unread part
// of the previous message is discarded. Payloads are read from the stream
// as the reader is drained, and text is checked to be valid UTF-8 as it
// arrives.
func (c *Conn) NextReader() (messageType int, r io.Reader, err error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readErr != nil {
		return 0, nil, c.readErr
	}

	if c.reader != nil {
		if _, err := io.Copy(io.Discard, c.reader); err != nil {
			return 0, nil, c.setReadErr(err)
		}
		c.reader = nil
	}

	c.readLength = 0
	h, err := c.nextDataFrame()
	if err != nil {
		return 0, nil, c.setReadErr(err)
	}

	switch h.opcode {
	case TextMessage:
		c.text.Reset()
	case continuationFrame:
		c.fail(CloseProtocolError)
		return 0, nil, c.setReadErr(ErrUnexpectedContinuation)
	}

	mr := &messageReader{c: c, text: h.opcode == TextMessage}
	if err := mr.startFrame(h); err != nil {
		return 0, nil, c.setReadErr(err)
	}

	c.reader = mr
	return h.opcode, mr, nil
}

// messageReader streams the payload of one message. remaining counts the
// unread bytes of the current frame.
type messageReader struct {
	c         *Conn
	text      bool
	h         frameHeader
	remaining int64
	maskPos   int
}

func (r *messageReader) startFrame(h frameHeader) error {
	r.h = h
	r.remaining = h.length
	r.maskPos = 0

	if r.text && h.length == 0 {
		return r.c.feedText(nil, h.final)
	}
	return nil
}

func (r *messageReader) Read(p []byte) (int, error) {
	c := r.c

	if c.readErr != nil {
		return 0, c.readErr
	}

	for r.remaining == 0 {
		if r.h.final {
			return 0, io.EOF
		}

		h, err := c.nextDataFrame()
		if err != nil {
			return 0, c.setReadErr(err)
		}
		if h.opcode != continuationFrame {
			c.fail(CloseProtocolError)
			return 0, c.setReadErr(ErrExpectedContinuation)
		}
		if err := r.startFrame(h); err != nil {
			return 0, c.setReadErr(err)
		}
	}

	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := c.br.Read(p)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, c.setReadErr(err)
	}

	if r.h.masked {
		r.maskPos = maskBytes(r.h.mask, r.maskPos, p[:n])
	}
	r.remaining -= int64(n)

	if r.text {
		if err := c.feedText(p[:n], r.remaining == 0 && r.h.final); err != nil {
			return 0, c.setReadErr(err)
		}
	}
	return n, nil
}

// WriteControl writes a control message with the given deadline. A close
// payload must carry a sendable code and a valid UTF-8 reason.
func (c *Conn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if !isControl(messageType) || messageType > PongMessage {
		return ErrInvalidControlFrame
	}
	if len(data) > maxControlFramePayloadSize {
		return ErrControlFramePayloadTooBig
	}
	if messageType == CloseMessage {
		if _, _, err := parseClosePayload(data); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}

	if c.netConn != nil {
		_ = c.netConn.SetWriteDeadline(deadline)
		defer c.netConn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}

	err := c.writeFrame(messageType, data, true)
	if messageType == CloseMessage {
		c.writeErr = ErrCloseSent
	}
	return err
}

// WriteMessage writes a single-frame message. Text messages must be valid UTF-8.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if messageType != TextMessage && messageType != BinaryMessage {
		return ErrInvalidMessageType
	}

	if messageType == TextMessage {
		var v utf8stream.Validator
		if err := v.Feed(data, true); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}

	return c.writeFrame(messageType, data, true)
}

// NextWriter returns a writer for the next message. Each Write sends one
// frame; Close sends the final frame. The connection's write side is held
// until the writer is closed.
func (c *Conn) NextWriter(messageType int) (io.WriteCloser, error) {
	if messageType != TextMessage && messageType != BinaryMessage {
		return nil, ErrInvalidMessageType
	}

	c.writeMu.Lock()

	if c.writeErr != nil {
		c.writeMu.Unlock()
		return nil, c.writeErr
	}

	return &messageWriter{c: c, opcode: messageType}, nil
}

type messageWriter struct {
	c       *Conn
	opcode  int
	started bool
	closed  bool
	text    utf8stream.Validator
}

func (w *messageWriter) frameOpcode() int {
	if w.started {
		return continuationFrame
	}
	w.started = true
	return w.opcode
}

func (w *messageWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriteToClosedConnection
	}
	if w.c.writeErr != nil {
		return 0, w.c.writeErr
	}

	if w.opcode == TextMessage {
		if err := w.text.Feed(p, false); err != nil {
			w.c.writeErr = err
			return 0, err
		}
	}

	if err := w.c.writeFrame(w.frameOpcode(), p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *messageWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.c.writeMu.Unlock()

	if w.c.writeErr != nil {
		return w.c.writeErr
	}

	if w.opcode == TextMessage {
		if err := w.text.Feed(nil, true); err != nil {
			w.c.writeErr = err
			return err
		}
	}

	return w.c.writeFrame(w.frameOpcode(), nil, true)
}

// writeFrame writes one frame per RFC 6455, section 5.2. Client frames are
// masked with a fresh key. The caller holds writeMu.
func (c *Conn) writeFrame(opcode int, data []byte, final bool) error {
	b0 := byte(opcode)
	if final {
		b0 |= finalBit
	}

	var b1 byte
	if c.role == RoleClient {
		b1 = maskBit
	}

	frame := append(c.writeBuf[:0], b0)

	n := len(data)
	switch {
	case n <= maxControlFramePayloadSize:
		frame = append(frame, b1|byte(n))
	case n <= 0xffff:
		frame = append(frame, b1|payloadLen16)
		frame = binary.BigEndian.AppendUint16(frame, uint16(n))
	default:
		frame = append(frame, b1|payloadLen64)
		frame = binary.BigEndian.AppendUint64(frame, uint64(n))
	}

	var mask [4]byte
	if c.role == RoleClient {
		if _, err := io.ReadFull(randReader, mask[:]); err != nil {
			return err
		}
		frame = append(frame, mask[:]...)
	}

	headerLen := len(frame)
	frame = append(frame, data...)
	if c.role == RoleClient {
		maskBytes(mask, 0, frame[headerLen:])
	}

	_, err := c.rwc.Write(frame)
	if err != nil {
		c.writeErr = err
	}

	if cap(frame) <= 4*(defaultWriteBufferSize+maxFrameHeaderSize) {
		c.writeBuf = frame[:0]
	}
	return err
}

// maskBytes applies XOR masking to data per RFC 6455, section 5.3.
// The mask is applied cyclically starting at pos; the next position is returned.
func maskBytes(mask [4]byte, pos int, data []byte) int {
	for i := range data {
		data[i] ^= mask[(pos+i)&3]
	}
	return (pos + len(data)) & 3
}
