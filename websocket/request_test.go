package websocket

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeKey(t *testing.T) {
	t.Run("Zero key", func(t *testing.T) {
		var raw [handshakeKeySize]byte
		key, err := makeKey(&raw)
		require.NoError(t, err)
		assert.Equal(t, zeroKeyEncoded, string(key[:]))
	})

	t.Run("Caller supplied keys round trip", func(t *testing.T) {
		inputs := [][handshakeKeySize]byte{
			{},
			{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			{'t', 'h', 'e', ' ', 's', 'a', 'm', 'p', 'l', 'e', ' ', 'n', 'o', 'n', 'c', 'e'},
			{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		}

		for _, raw := range inputs {
			first, err := makeKey(&raw)
			require.NoError(t, err)
			second, err := makeKey(&raw)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			decoded, err := base64.StdEncoding.DecodeString(string(first[:]))
			require.NoError(t, err)
			assert.Equal(t, raw[:], decoded)
		}
	})

	t.Run("RFC sample nonce", func(t *testing.T) {
		raw := [handshakeKeySize]byte{'t', 'h', 'e', ' ', 's', 'a', 'm', 'p', 'l', 'e', ' ', 'n', 'o', 'n', 'c', 'e'}
		key, err := makeKey(&raw)
		require.NoError(t, err)
		assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", string(key[:]))
	})

	t.Run("Random keys", func(t *testing.T) {
		key1, err := makeKey(nil)
		require.NoError(t, err)
		key2, err := makeKey(nil)
		require.NoError(t, err)

		assert.NotEqual(t, key1, key2)

		decoded, err := base64.StdEncoding.DecodeString(string(key1[:]))
		require.NoError(t, err)
		assert.Len(t, decoded, handshakeKeySize)
	})

	t.Run("Random source failure", func(t *testing.T) {
		sourceErr := errors.New("no entropy")
		orig := randReader
		randReader = iotest.ErrReader(sourceErr)
		t.Cleanup(func() { randReader = orig })

		_, err := makeKey(nil)
		assert.ErrorIs(t, err, sourceErr)
	})
}

func TestDefaultPort(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		port   uint16
		ok     bool
	}{
		{"ws", Target{Scheme: "ws"}, 80, true},
		{"http", Target{Scheme: "http"}, 80, true},
		{"wss", Target{Scheme: "wss"}, 443, true},
		{"https", Target{Scheme: "https"}, 443, true},
		{"Explicit port wins over ws", Target{Scheme: "ws", Port: 443}, 443, true},
		{"Explicit port wins over wss", Target{Scheme: "wss", Port: 8080}, 8080, true},
		{"Unknown scheme", Target{Scheme: "ftp"}, 0, false},
		{"Unknown scheme with port", Target{Scheme: "ftp", Port: 21}, 21, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := defaultPort(tt.target)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func mustTarget(t *testing.T, rawURL string) Target {
	t.Helper()
	target, err := ParseTarget(rawURL)
	require.NoError(t, err)
	return target
}

func TestBuildRequest(t *testing.T) {
	key := []byte(zeroKeyEncoded)

	t.Run("Path, query and default port", func(t *testing.T) {
		req := buildRequest(mustTarget(t, "ws://example.com/chat?x=1"), key, nil)
		assert.Equal(t, "GET /chat?x=1 HTTP/1.1\r\n"+
			"Host: example.com:80\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: AAAAAAAAAAAAAAAAAAAAAA==\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"\r\n", string(req))
	})

	t.Run("Deterministic", func(t *testing.T) {
		var h Header
		require.NoError(t, h.Set("X-One", "1"))

		target := mustTarget(t, "wss://example.com/a/b?c=d")
		assert.Equal(t, buildRequest(target, key, &h), buildRequest(target, key, &h))
	})

	t.Run("Extra headers in insertion order", func(t *testing.T) {
		target := mustTarget(t, "ws://example.com/")

		var ab Header
		require.NoError(t, ab.Set("X-A", "1"))
		require.NoError(t, ab.Set("X-B", "2"))

		var ba Header
		require.NoError(t, ba.Set("X-B", "2"))
		require.NoError(t, ba.Set("X-A", "1"))

		reqAB := string(buildRequest(target, key, &ab))
		reqBA := string(buildRequest(target, key, &ba))

		assert.Contains(t, reqAB, "Sec-WebSocket-Version: 13\r\nX-A: 1\r\nX-B: 2\r\n\r\n")
		assert.Contains(t, reqBA, "Sec-WebSocket-Version: 13\r\nX-B: 2\r\nX-A: 1\r\n\r\n")
	})

	t.Run("Request ends with a single blank line", func(t *testing.T) {
		req := buildRequest(mustTarget(t, "ws://example.com/"), key, nil)
		assert.True(t, bytes.HasSuffix(req, []byte("13\r\n\r\n")))
		assert.Equal(t, 1, bytes.Count(req, []byte("\r\n\r\n")))
	})

	hostTests := []struct {
		name string
		url  string
		host string
	}{
		{"ws default port", "ws://example.com/", "Host: example.com:80\r\n"},
		{"wss default port", "wss://example.com/", "Host: example.com:443\r\n"},
		{"Explicit port on ws", "ws://example.com:9000/", "Host: example.com:9000\r\n"},
		{"Explicit port on wss", "wss://example.com:80/", "Host: example.com:80\r\n"},
		{"IPv6 literal", "ws://[::1]/", "Host: [::1]:80\r\n"},
		{"Unknown scheme", "foo://example.com/", "Host: example.com\r\n"},
	}

	for _, tt := range hostTests {
		t.Run("Host header "+tt.name, func(t *testing.T) {
			req := string(buildRequest(mustTarget(t, tt.url), key, nil))
			assert.Contains(t, req, "\r\n"+tt.host)
		})
	}

	t.Run("Empty path becomes slash", func(t *testing.T) {
		req := buildRequest(mustTarget(t, "ws://example.com"), key, nil)
		assert.True(t, bytes.HasPrefix(req, []byte("GET / HTTP/1.1\r\n")))
	})

	t.Run("Empty query is kept", func(t *testing.T) {
		req := buildRequest(mustTarget(t, "ws://example.com/p?"), key, nil)
		assert.True(t, bytes.HasPrefix(req, []byte("GET /p? HTTP/1.1\r\n")))
	})

	t.Run("Escaped path", func(t *testing.T) {
		req := buildRequest(mustTarget(t, "ws://example.com/a%20b"), key, nil)
		assert.True(t, bytes.HasPrefix(req, []byte("GET /a%20b HTTP/1.1\r\n")))
	})

	t.Run("No host header without host", func(t *testing.T) {
		req := string(buildRequest(Target{Scheme: "ws", Path: "/x"}, key, nil))
		assert.NotContains(t, req, "Host:")
		assert.Contains(t, req, "GET /x HTTP/1.1\r\nUpgrade: websocket\r\n")
	})
}

func TestHeader(t *testing.T) {
	t.Run("Names are canonical", func(t *testing.T) {
		var h Header
		require.NoError(t, h.Set("x-custom-header", "v"))
		assert.Equal(t, []string{"X-Custom-Header"}, h.Names())
		assert.Equal(t, "v", h.Get("X-CUSTOM-HEADER"))
	})

	t.Run("Set replaces in place", func(t *testing.T) {
		var h Header
		require.NoError(t, h.Set("A", "1"))
		require.NoError(t, h.Set("B", "2"))
		require.NoError(t, h.Set("a", "3"))

		assert.Equal(t, 2, h.Len())
		assert.Equal(t, []string{"A", "B"}, h.Names())
		assert.Equal(t, "3", h.Get("A"))
	})

	t.Run("Del", func(t *testing.T) {
		var h Header
		require.NoError(t, h.Set("A", "1"))
		require.NoError(t, h.Set("B", "2"))
		h.Del("a")
		h.Del("missing")

		assert.Equal(t, []string{"B"}, h.Names())
		assert.Empty(t, h.Get("A"))
	})

	invalid := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"Space in name", "Bad Name", "v", ErrInvalidHeader},
		{"Empty name", "", "v", ErrInvalidHeader},
		{"CRLF in value", "X-Evil", "a\r\nInjected: 1", ErrInvalidHeader},
		{"Host", "host", "example.com", ErrReservedHeader},
		{"Upgrade", "Upgrade", "h2c", ErrReservedHeader},
		{"Connection", "connection", "close", ErrReservedHeader},
		{"Key", "Sec-WebSocket-Key", "x", ErrReservedHeader},
		{"Version", "sec-websocket-version", "8", ErrReservedHeader},
	}

	for _, tt := range invalid {
		t.Run("Rejects "+tt.name, func(t *testing.T) {
			var h Header
			err := h.Set(tt.key, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, h.Len())
		})
	}

	t.Run("Subprotocol header is allowed", func(t *testing.T) {
		var h Header
		assert.NoError(t, h.Set("Sec-WebSocket-Protocol", "chat"))
	})
}
