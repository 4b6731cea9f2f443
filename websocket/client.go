package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// ErrBuilderConsumed is returned when a Builder is used for a second
// connection attempt.
var ErrBuilderConsumed = errors.New("websocket: builder already used")

// aLongTimeAgo is a non-zero time in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Builder configures and performs one client connection. It can be used
// for exactly one call to Connect or ConnectOn.
type Builder struct {
	target           Target
	connector        Connector
	header           Header
	dialer           proxy.ContextDialer
	resolver         Resolver
	logger           *zap.Logger
	handshakeTimeout time.Duration
	readLimit        int64

	// key fixes the handshake nonce. nil draws a random one.
	key *[handshakeKeySize]byte

	used atomic.Bool
}

// NewBuilder returns a Builder that connects to rawURL.
func NewBuilder(rawURL string) (*Builder, error) {
	t, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	return NewBuilderFromTarget(t), nil
}

// NewBuilderFromTarget returns a Builder for an already parsed target.
func NewBuilderFromTarget(t Target) *Builder {
	return &Builder{
		target: t,
		logger: zap.NewNop(),
	}
}

// Target returns the connection target.
func (b *Builder) Target() Target {
	return b.target
}

// SetConnector sets the connector applied to the dialed transport. By
// default wss and https targets get a new TLSConnector and other targets
// are used as is.
func (b *Builder) SetConnector(c Connector) {
	b.connector = c
}

// AddHeader adds an extra header to the handshake request. Setting a name
// again replaces its value. Handshake headers generated by the client
// (Host, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version)
// are rejected with ErrReservedHeader.
func (b *Builder) AddHeader(name, value string) error {
	return b.header.Set(name, value)
}

// SetDialer sets the dialer used to open the transport connection, for
// example a SOCKS5 dialer from golang.org/x/net/proxy. The default is a
// zero net.Dialer.
func (b *Builder) SetDialer(d proxy.ContextDialer) {
	b.dialer = d
}

// SetResolver sets the resolver used for the target host. The default is
// net.DefaultResolver.
func (b *Builder) SetResolver(r Resolver) {
	b.resolver = r
}

// SetLogger sets the logger for connection progress. Errors are returned,
// not logged.
func (b *Builder) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	b.logger = l
}

// SetHandshakeTimeout bounds the whole connection attempt. Zero means no
// timeout beyond the context passed to Connect.
func (b *Builder) SetHandshakeTimeout(d time.Duration) {
	b.handshakeTimeout = d
}

// SetReadLimit sets the read limit of the resulting connection.
func (b *Builder) SetReadLimit(limit int64) {
	b.readLimit = limit
}

func (b *Builder) claim() error {
	if !b.used.CompareAndSwap(false, true) {
		return ErrBuilderConsumed
	}
	return nil
}

func (b *Builder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.handshakeTimeout > 0 {
		return context.WithTimeout(ctx, b.handshakeTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Builder) attemptLogger() *zap.Logger {
	return b.logger.With(
		zap.String("attempt_id", uuid.NewString()),
		zap.Stringer("target", b.target),
	)
}

// Connect resolves the target host, dials it, applies the connector and
// performs the opening handshake. The steps run in order and the first
// failure aborts the attempt; nothing is retried. On failure the dialed
// connection is closed.
func (b *Builder) Connect(ctx context.Context) (*Conn, error) {
	if err := b.claim(); err != nil {
		return nil, err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	log := b.attemptLogger()

	host := b.target.Host
	if host == "" {
		return nil, fmt.Errorf("%w: target has no host", ErrCannotResolveHost)
	}

	port, ok := defaultPort(b.target)
	if !ok {
		port = 80
	}

	var resolver Resolver = net.DefaultResolver
	if b.resolver != nil {
		resolver = b.resolver
	}

	addr, err := resolve(ctx, resolver, host, port)
	if err != nil {
		return nil, err
	}
	log.Debug("resolved host", zap.String("addr", addr.String()))

	var dialer proxy.ContextDialer = &net.Dialer{}
	if b.dialer != nil {
		dialer = b.dialer
	}

	raw, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	log.Debug("transport connected")

	connector := b.connector
	if connector == nil {
		connector = connectorFor(b.target)
	}

	stream, err := connector.Wrap(ctx, host, raw)
	if err != nil {
		raw.Close()
		return nil, err
	}

	if tlsConn, ok := stream.(*tls.Conn); ok {
		state := tlsConn.ConnectionState()
		log.Debug("tls negotiated",
			zap.String("version", tls.VersionName(state.Version)),
			zap.String("server_name", state.ServerName),
		)
	}

	return b.handshake(ctx, log, stream)
}

// ConnectOn performs the opening handshake over an established stream,
// for callers that dial (and encrypt) the connection themselves, e.g.
// through a proxy. ConnectOn takes ownership of rwc and closes it when the
// handshake fails.
//
// Cancellation of ctx interrupts the handshake only when rwc is a net.Conn.
func (b *Builder) ConnectOn(ctx context.Context, rwc io.ReadWriteCloser) (*Conn, error) {
	if err := b.claim(); err != nil {
		return nil, err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	return b.handshake(ctx, b.attemptLogger(), rwc)
}

func (b *Builder) handshake(ctx context.Context, log *zap.Logger, rwc io.ReadWriteCloser) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		rwc.Close()
		return nil, err
	}

	nc, _ := rwc.(net.Conn)

	var stop func() bool
	if nc != nil {
		stop = context.AfterFunc(ctx, func() {
			_ = nc.SetDeadline(aLongTimeAgo)
		})
	}

	conn, err := b.upgrade(log, rwc)

	// A fired AfterFunc has poisoned the deadline, so the context wins.
	interrupted := stop != nil && !stop()
	if interrupted || (err != nil && ctx.Err() != nil) {
		err = ctx.Err()
	}

	if err != nil {
		rwc.Close()
		return nil, err
	}

	return conn, nil
}

// upgrade sends the handshake request and reads the response. Bytes the
// server sent after the response stay buffered for the returned Conn.
func (b *Builder) upgrade(log *zap.Logger, rwc io.ReadWriteCloser) (*Conn, error) {
	key, err := makeKey(b.key)
	if err != nil {
		return nil, err
	}

	req := buildRequest(b.target, key[:], &b.header)
	if _, err := rwc.Write(req); err != nil {
		return nil, err
	}
	log.Debug("handshake request sent", zap.Int("bytes", len(req)))

	br := bufio.NewReaderSize(rwc, defaultReadBufferSize)
	if err := readUpgradeResponse(br, string(key[:])); err != nil {
		return nil, err
	}

	conn := newConn(rwc, br, RoleClient)
	conn.SetReadLimit(b.readLimit)

	log.Debug("upgrade complete", zap.Int("buffered", br.Buffered()))
	return conn, nil
}
