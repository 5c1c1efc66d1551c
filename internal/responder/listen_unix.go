//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package responder

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ReusePortSupported reports whether several processes can bind one port.
const ReusePortSupported = true

// Listen opens a TCP listener on addr with the accept backlog of opts. The
// socket is built by hand because net.ListenConfig always uses the system
// default backlog.
func Listen(ctx context.Context, addr string, opts ListenOptions) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	family, sa := sockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil && tcpAddr.IP == nil {
		// No IPv6 on this host: listen on every IPv4 address instead.
		family, sa = unix.AF_INET, &unix.SockaddrInet4{Port: tcpAddr.Port}
		fd, err = unix.Socket(family, unix.SOCK_STREAM, 0)
	}
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := configureSocket(fd, family, opts); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, os.NewSyscallError("bind", err))
	}
	if err := unix.Listen(fd, opts.backlog()); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// FileListener dups the descriptor, the original is closed with f.
	f := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listener for %s: %w", addr, err)
	}
	return ln, nil
}

func configureSocket(fd, family int, opts ListenOptions) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}
	if opts.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEPORT", err)
		}
	}
	if family == unix.AF_INET6 {
		// Dual stack, like net.Listen on an unspecified address.
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return os.NewSyscallError("setsockopt IPV6_V6ONLY", err)
		}
	}
	return nil
}

// sockaddr maps addr to a socket family and address. An empty host listens
// on every IPv4 and IPv6 address.
func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil {
		return unix.AF_INET6, &unix.SockaddrInet6{Port: addr.Port}
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}
