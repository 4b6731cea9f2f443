// Package websocket implements the client side of the WebSocket protocol
// defined in RFC 6455.
//
// A Builder performs the opening handshake: it resolves the target host,
// dials it, negotiates TLS for wss targets and exchanges the HTTP/1.1
// upgrade request and response. The resulting Conn reads and writes
// messages and rejects text messages that are not valid UTF-8, even when a
// codepoint is split across frames.
//
// Client Example:
//
//	b, err := websocket.NewBuilder("wss://example.com/chat")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.AddHeader("Authorization", "Bearer token"); err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := b.Connect(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	err = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Existing Streams:
//
// ConnectOn runs the handshake over a stream the caller already owns, for
// example a TLS session established through a proxy:
//
//	conn, err := b.ConnectOn(ctx, tlsConn)
//
// Handshake Request:
//
// The request is written byte for byte as follows, extra headers last in
// the order they were added. The Host header always includes the port, also
// when it is the default port of the scheme.
//
//	GET /chat HTTP/1.1
//	Host: example.com:443
//	Upgrade: websocket
//	Connection: Upgrade
//	Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==
//	Sec-WebSocket-Version: 13
//
// Errors:
//
// Every step fails fast and nothing is retried. ErrCannotResolveHost and
// ErrNoUpgradeResponse identify the resolution and empty-response cases, a
// *HandshakeError describes a response that does not complete the upgrade,
// and transport and TLS errors are returned unchanged.
//
// Concurrency:
//
// A Builder is used once. Connections support one concurrent reader and one
// concurrent writer. Applications are responsible for ensuring that no more
// than one goroutine calls the write methods (NextWriter, WriteMessage,
// WriteControl) concurrently, and that no more than one goroutine calls the
// read methods (NextReader, ReadMessage) concurrently.
//
// The Close method can be called concurrently with other methods.
package websocket
