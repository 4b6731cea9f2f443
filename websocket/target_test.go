package websocket

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Target
	}{
		{
			name: "Plain",
			url:  "ws://example.com/chat?x=1",
			want: Target{Scheme: "ws", Host: "example.com", Path: "/chat", RawQuery: "x=1"},
		},
		{
			name: "Explicit port",
			url:  "wss://example.com:8443/",
			want: Target{Scheme: "wss", Host: "example.com", Port: 8443, Path: "/"},
		},
		{
			name: "Upper case scheme",
			url:  "WSS://example.com",
			want: Target{Scheme: "wss", Host: "example.com"},
		},
		{
			name: "IPv6",
			url:  "ws://[::1]:9000/a",
			want: Target{Scheme: "ws", Host: "::1", Port: 9000, Path: "/a"},
		},
		{
			name: "IDNA host",
			url:  "ws://bücher.example/",
			want: Target{Scheme: "ws", Host: "xn--bcher-kva.example", Path: "/"},
		},
		{
			name: "No host",
			url:  "ws:///path",
			want: Target{Scheme: "ws", Path: "/path"},
		},
		{
			name: "Force query",
			url:  "ws://example.com/?",
			want: Target{Scheme: "ws", Host: "example.com", Path: "/", ForceQuery: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTargetErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"Missing scheme", "://invalid"},
		{"Port out of range", "ws://example.com:70000/"},
		{"Control character", "ws://example.com/\x7f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTarget(tt.url)
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestTargetFromURL(t *testing.T) {
	u := &url.URL{Scheme: "wss", Host: "example.com:444", Path: "/x"}
	target, err := TargetFromURL(u)
	require.NoError(t, err)

	assert.Equal(t, "example.com", target.Host)
	assert.Equal(t, uint16(444), target.Port)
	assert.True(t, target.Secure())
}

func TestTargetRequestURI(t *testing.T) {
	assert.Equal(t, "/", Target{}.RequestURI())
	assert.Equal(t, "/a?b=c", Target{Path: "/a", RawQuery: "b=c"}.RequestURI())
	assert.Equal(t, "/a?", Target{Path: "/a", ForceQuery: true}.RequestURI())
}

func TestTargetSecure(t *testing.T) {
	for scheme, secure := range map[string]bool{"ws": false, "http": false, "wss": true, "https": true, "tcp": false} {
		assert.Equal(t, secure, Target{Scheme: scheme}.Secure(), scheme)
	}
}

func TestTargetString(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"ws://example.com/chat?x=1", "ws://example.com/chat?x=1"},
		{"wss://example.com:8443/", "wss://example.com:8443/"},
		{"ws://[::1]/a", "ws://[::1]/a"},
		{"ws://[::1]:81/a", "ws://[::1]:81/a"},
		{"ws://example.com", "ws://example.com/"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mustTarget(t, tt.url).String())
	}
}
