// File: transport/tcp/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

// Socket owns one TCP descriptor and closes it exactly once.
type Socket struct {
	fd     int
	closed atomic.Bool
}

func newSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Fd returns the descriptor.
func (s *Socket) Fd() int { return s.fd }

// BindAddress binds the socket to addr, aborting on failure.
func (s *Socket) BindAddress(addr Addr) { bindOrDie(s.fd, addr) }

// Listen enters the kernel listen state, aborting on failure.
func (s *Socket) Listen() { listenOrDie(s.fd) }

// Accept takes one pending connection, returning its descriptor and peer
// address, or -1 and the errno.
func (s *Socket) Accept() (int, Addr, unix.Errno) { return accept(s.fd) }

// ShutdownWrite half-closes the sending direction.
func (s *Socket) ShutdownWrite() { shutdownWrite(s.fd) }

// SetTCPNoDelay toggles Nagle's algorithm.
func (s *Socket) SetTCPNoDelay(on bool) {
	if err := setSockoptBool(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, on); err != nil {
		logging.L().Error().Err(err).Int("fd", s.fd).Msg("set TCP_NODELAY failed")
	}
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) {
	if err := setSockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, on); err != nil {
		logging.L().Error().Err(err).Int("fd", s.fd).Msg("set SO_REUSEADDR failed")
	}
}

// SetReusePort toggles SO_REUSEPORT.
func (s *Socket) SetReusePort(on bool) {
	if err := setSockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, on); err != nil {
		logging.L().Error().Err(err).Int("fd", s.fd).Bool("on", on).Msg("set SO_REUSEPORT failed")
	}
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) {
	if err := setSockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on); err != nil {
		logging.L().Error().Err(err).Int("fd", s.fd).Msg("set SO_KEEPALIVE failed")
	}
}

// Close releases the descriptor. Idempotent.
func (s *Socket) Close() {
	if s.closed.CompareAndSwap(false, true) {
		if err := unix.Close(s.fd); err != nil {
			logging.L().Error().Err(err).Int("fd", s.fd).Msg("close failed")
		}
	}
}
