// Package tcpio implements a TCP listener and connector on top of
// non-blocking raw sockets, epoll readiness (via looprt.Loop.AwaitIO), and
// the task package's suspend/resume primitive. One listener keeps a single
// in-flight accept registration at a time: only one outstanding accept per
// listener is supported.
//
// Grounded on go-ublk's Runner (internal/queue/runner.go) for the general
// shape of "open/configure an fd, then drive it entirely through readiness
// notifications delivered to a pinned-thread loop" — generalized here from
// a ublk character device to a plain TCP socket.
package tcpio

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/xnko/libio/internal/backend/epollio"
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/task"
)

// Listener is a non-blocking TCP listening socket bound to one Loop.
type Listener struct {
	loop *looprt.Loop
	fd   int
	addr *net.TCPAddr
}

// Listen creates, binds, and listens on address (host:port), configuring the
// socket non-blocking and close-on-exec before returning.
func Listen(loop *looprt.Loop, address string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", address, err)
	}

	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt(TCP_NODELAY): %w", err)
	}

	sockaddr, err := toSockaddr(domain, tcpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	boundAddr := tcpAddr
	if sa, serr := unix.Getsockname(fd); serr == nil {
		if resolved, ok := fromSockaddr(sa); ok {
			boundAddr = resolved
		}
	}

	return &Listener{loop: loop, fd: fd, addr: boundAddr}, nil
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// FD returns the raw listening socket fd, for registering with a
// stream.TCPBackend once a connection is accepted.
func (l *Listener) FD() int { return l.fd }

// Accept suspends the calling task until a connection is pending, then
// accept4()s it, returning the new non-blocking fd and its peer address.
func (l *Listener) Accept(t *task.Task) (int, *net.TCPAddr, error) {
	for {
		connFd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			if setErr := unix.SetsockoptInt(connFd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); setErr != nil {
				unix.Close(connFd)
				return 0, nil, fmt.Errorf("setsockopt(TCP_NODELAY): %w", setErr)
			}
			peer, _ := fromSockaddr(sa)
			return connFd, peer, nil
		}
		if err != unix.EAGAIN {
			return 0, nil, fmt.Errorf("accept4: %w", err)
		}
		if _, awaitErr := l.loop.AwaitIO(t, l.fd, epollio.In, 0); awaitErr != nil {
			return 0, nil, awaitErr
		}
	}
}

// Close shuts down the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Connect opens a non-blocking outbound connection, suspending the calling
// task while the three-way handshake is in flight (EINPROGRESS ->
// AwaitIO(EPOLLOUT)) and classifying the eventual SO_ERROR to distinguish a
// successful handshake from a refused or timed-out one.
func Connect(loop *looprt.Loop, t *task.Task, address string, deadlineMs int64) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", address, err)
	}

	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("setsockopt(TCP_NODELAY): %w", err)
	}

	sockaddr, err := toSockaddr(domain, tcpAddr)
	if err != nil {
		unix.Close(fd)
		return 0, err
	}

	err = unix.Connect(fd, sockaddr)
	if err == nil {
		return fd, nil
	}
	if err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, fmt.Errorf("connect %s: %w", address, err)
	}

	if _, awaitErr := loop.AwaitIO(t, fd, epollio.Out, deadlineMs); awaitErr != nil {
		unix.Close(fd)
		return 0, awaitErr
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("getsockopt(SO_ERROR): %w", err)
	}
	if soErr != 0 {
		unix.Close(fd)
		return 0, fmt.Errorf("connect %s: %w", address, unix.Errno(soErr))
	}

	return fd, nil
}

func toSockaddr(domain int, addr *net.TCPAddr) (unix.Sockaddr, error) {
	port := addr.Port
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: port}
	if addr.IP != nil {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("address %s is not IPv4", addr.IP)
		}
		copy(sa.Addr[:], ip4)
	}
	return sa, nil
}

func fromSockaddr(sa unix.Sockaddr) (*net.TCPAddr, bool) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}, true
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}, true
	default:
		return nil, false
	}
}

// JoinHostPort is a small convenience re-export so callers building
// addresses don't need to import net/strconv themselves.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
