package websocket

import (
	"context"
	"crypto/tls"
	"net"
)

// Connector prepares a freshly dialed transport connection for the
// handshake, for example by negotiating TLS. host is the target host name
// without port.
type Connector interface {
	Wrap(ctx context.Context, host string, conn net.Conn) (net.Conn, error)
}

// PlainConnector returns the connection unchanged.
var PlainConnector Connector = plainConnector{}

type plainConnector struct{}

func (plainConnector) Wrap(_ context.Context, _ string, conn net.Conn) (net.Conn, error) {
	return conn, nil
}

// TLSConnector wraps connections in a TLS client session.
type TLSConnector struct {
	// Config is cloned for every connection. A nil Config uses the
	// crypto/tls defaults. ServerName defaults to the target host.
	Config *tls.Config
}

// NewTLSConnector returns a TLSConnector using config.
func NewTLSConnector(config *tls.Config) *TLSConnector {
	return &TLSConnector{Config: config}
}

// Wrap performs the TLS handshake on conn. On failure conn is left open for
// the caller to close.
func (c *TLSConnector) Wrap(ctx context.Context, host string, conn net.Conn) (net.Conn, error) {
	config := c.Config
	if config == nil {
		config = &tls.Config{}
	} else {
		config = config.Clone()
	}

	if config.ServerName == "" {
		config.ServerName = host
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return tlsConn, nil
}

// connectorFor returns the connector used when none was configured.
func connectorFor(t Target) Connector {
	if t.Secure() {
		return &TLSConnector{}
	}
	return PlainConnector
}
