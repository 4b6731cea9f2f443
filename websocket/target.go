package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidTarget is returned when a URL cannot be used as a connection target.
var ErrInvalidTarget = errors.New("websocket: invalid target")

// Target identifies the resource a Builder connects to.
type Target struct {
	// Scheme is the lower-case URL scheme, e.g. "ws" or "wss".
	Scheme string

	// Host is the host name or IP address without brackets or port.
	// Non-ASCII host names are stored in their IDNA ASCII form.
	Host string

	// Port is the explicit port of the URL, or 0 if none was given.
	Port uint16

	// Path is the escaped path of the resource.
	Path string

	// RawQuery is the encoded query without the leading '?'.
	RawQuery string

	// ForceQuery is set when the URL ends with '?' and an empty query.
	ForceQuery bool
}

// ParseTarget parses rawURL into a Target.
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return TargetFromURL(u)
}

// TargetFromURL converts a parsed URL into a Target.
func TargetFromURL(u *url.URL) (Target, error) {
	t := Target{
		Scheme:     u.Scheme,
		Path:       u.EscapedPath(),
		RawQuery:   u.RawQuery,
		ForceQuery: u.ForceQuery,
	}

	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Target{}, fmt.Errorf("%w: bad port %q", ErrInvalidTarget, p)
		}
		t.Port = uint16(port)
	}

	host := u.Hostname()
	if host != "" && !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		host = ascii
	}
	t.Host = host

	return t, nil
}

// RequestURI returns the path and query as sent in the request line.
func (t Target) RequestURI() string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	if t.RawQuery != "" || t.ForceQuery {
		return path + "?" + t.RawQuery
	}
	return path
}

// Secure reports whether the scheme calls for an encrypted transport.
func (t Target) Secure() bool {
	return t.Scheme == "wss" || t.Scheme == "https"
}

// String returns the target in URL form.
func (t Target) String() string {
	host := bracketHost(t.Host)
	if t.Port != 0 {
		host = net.JoinHostPort(t.Host, formatPort(t.Port))
	}
	return t.Scheme + "://" + host + t.RequestURI()
}

// hostPort returns the value of the Host header: the host and, whenever
// defaultPort knows one, the port.
func (t Target) hostPort() string {
	port, ok := defaultPort(t)
	if !ok {
		return bracketHost(t.Host)
	}
	return net.JoinHostPort(t.Host, formatPort(port))
}

func bracketHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
