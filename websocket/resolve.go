package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCannotResolveHost is returned when the target has no host or the host
// does not resolve to any address.
var ErrCannotResolveHost = errors.New("websocket: cannot resolve host")

// Resolver looks up the addresses of a host. *net.Resolver implements it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type resolveResult struct {
	addrs []net.IPAddr
	err   error
}

// resolve returns the first address host resolves to, combined with port.
// The lookup runs on its own goroutine; resolve returns once ctx is done
// even if the resolver has not.
func resolve(ctx context.Context, r Resolver, host string, port uint16) (*net.TCPAddr, error) {
	done := make(chan resolveResult, 1)
	go func() {
		addrs, err := r.LookupIPAddr(ctx, host)
		done <- resolveResult{addrs: addrs, err: err}
	}()

	var res resolveResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCannotResolveHost, host, res.err)
	}
	if len(res.addrs) == 0 {
		return nil, fmt.Errorf("%w %s: no addresses", ErrCannotResolveHost, host)
	}

	first := res.addrs[0]
	return &net.TCPAddr{IP: first.IP, Port: int(port), Zone: first.Zone}, nil
}
