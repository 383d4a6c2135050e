//go:build linux

// File: transport/tcp/sockets_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin wrappers over the socket syscalls the server front end consumes.
// Descriptors are created non-blocking and close-on-exec at the syscall
// level, never through the net package.

package tcp

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

func createNonblocking(ipv6 bool) int {
	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("socket creation failed")
	}
	return fd
}

func bindOrDie(fd int, addr Addr) {
	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		logging.L().Fatal().Err(err).Stringer("addr", addr).Msg("bind failed")
	}
}

func listenOrDie(fd int) {
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		logging.L().Fatal().Err(err).Msg("listen failed")
	}
}

// accept returns the new descriptor (non-blocking, cloexec) and the peer
// address, or -1 and the errno.
func accept(fd int) (int, Addr, unix.Errno) {
	connfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return -1, Addr{}, errno
		}
		return -1, Addr{}, unix.EIO
	}
	return connfd, addrFromSockaddr(sa), 0
}

func shutdownWrite(fd int) {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		logging.L().Error().Err(err).Int("fd", fd).Msg("shutdown(SHUT_WR) failed")
	}
}

func localAddr(fd int) Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		logging.L().Error().Err(err).Int("fd", fd).Msg("getsockname failed")
		return Addr{}
	}
	return addrFromSockaddr(sa)
}

func peerAddr(fd int) Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		logging.L().Error().Err(err).Int("fd", fd).Msg("getpeername failed")
		return Addr{}
	}
	return addrFromSockaddr(sa)
}

// socketError drains SO_ERROR for the descriptor.
func socketError(fd int) unix.Errno {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno
		}
		return unix.EIO
	}
	return unix.Errno(v)
}

func setSockoptBool(fd, level, opt int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, level, opt, v)
}
