//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package responder

import (
	"context"
	"errors"
	"net"
)

// ReusePortSupported reports whether several processes can bind one port.
const ReusePortSupported = false

// ErrReusePortUnsupported is returned when a shared port is requested on a
// platform without SO_REUSEPORT.
var ErrReusePortUnsupported = errors.New("SO_REUSEPORT is not supported on this platform")

// Listen opens a TCP listener on addr. The platform default backlog applies.
func Listen(ctx context.Context, addr string, opts ListenOptions) (net.Listener, error) {
	if opts.ReusePort {
		return nil, ErrReusePortUnsupported
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
