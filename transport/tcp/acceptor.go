// File: transport/tcp/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
)

// NewConnectionCallback receives each accepted descriptor with its peer
// address. The receiver takes ownership of the descriptor.
type NewConnectionCallback func(sockfd int, peer Addr)

// Acceptor owns the listening socket on the accept loop and emits one
// callback per accepted connection.
type Acceptor struct {
	loop          *reactor.EventLoop
	acceptSocket  *Socket
	acceptChannel *reactor.Channel
	newConnection NewConnectionCallback
	listening     bool

	// idleFd holds a spare descriptor so accept can still make progress
	// when the process hits its fd limit: close the spare, accept and
	// drop the pending connection, reopen the spare. Without this the
	// pending connection keeps the listen fd readable forever.
	idleFd int
}

// NewAcceptor binds a non-blocking listening socket on loop. listen(2) is
// deferred to Listen.
func NewAcceptor(loop *reactor.EventLoop, listenAddr Addr, reusePort bool) *Acceptor {
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("opening idle fd failed")
	}
	a := &Acceptor{
		loop:         loop,
		acceptSocket: newSocket(createNonblocking(listenAddr.IsIPv6())),
		idleFd:       idleFd,
	}
	a.acceptSocket.SetReuseAddr(true)
	a.acceptSocket.SetReusePort(reusePort)
	a.acceptSocket.BindAddress(listenAddr)
	a.acceptChannel = reactor.NewChannel(loop, a.acceptSocket.Fd())
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

// SetNewConnectionCallback installs the accept sink. Without one, accepted
// descriptors are closed immediately.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnection = cb
}

// Listen enters the kernel listen state and turns on readability. Must run
// on the accept loop.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopGoroutine()
	a.listening = true
	a.acceptSocket.Listen()
	a.acceptChannel.EnableReading()
}

// Listening reports whether Listen has run.
func (a *Acceptor) Listening() bool { return a.listening }

// BoundAddr returns the address the listen socket is actually bound to,
// which differs from the requested one when port 0 was asked for.
func (a *Acceptor) BoundAddr() Addr { return localAddr(a.acceptSocket.Fd()) }

// Close detaches the acceptor and releases its descriptors. Must run on
// the accept loop.
func (a *Acceptor) Close() {
	a.loop.AssertInLoopGoroutine()
	a.acceptChannel.DisableAll()
	a.acceptChannel.Remove()
	a.acceptSocket.Close()
	_ = unix.Close(a.idleFd)
}

func (a *Acceptor) handleRead(time.Time) {
	a.loop.AssertInLoopGoroutine()
	connfd, peer, errno := a.acceptSocket.Accept()
	if connfd >= 0 {
		if a.newConnection != nil {
			a.newConnection(connfd, peer)
		} else {
			_ = unix.Close(connfd)
		}
		return
	}
	switch errno {
	case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
		// benign, retried on the next readiness
	case unix.EMFILE:
		logging.L().Warn().Msg("accept hit the fd limit, defusing with idle fd")
		_ = unix.Close(a.idleFd)
		fd, _, _ := a.acceptSocket.Accept()
		if fd >= 0 {
			_ = unix.Close(fd)
		}
		a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	default:
		logging.L().Error().Str("errno", errno.Error()).Msg("accept failed")
	}
}
