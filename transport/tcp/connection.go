// File: transport/tcp/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine. Every Connection is pinned to one worker
// loop: all socket I/O, buffer access and state transitions happen there.
// Send is the one entry point callable from any goroutine; it re-posts
// itself onto the owner loop.

package tcp

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
)

// Connection states.
const (
	StateConnecting int32 = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func stateName(s int32) string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// User-facing callback signatures.
type (
	// ConnectionCallback fires on establishment and on disconnection;
	// inspect Connected() to tell them apart.
	ConnectionCallback func(*Connection)
	// MessageCallback fires when fresh bytes land in the input buffer.
	MessageCallback func(*Connection, *buffer.Buffer, time.Time)
	// WriteCompleteCallback fires when the output buffer fully drains.
	WriteCompleteCallback func(*Connection)
	// HighWaterMarkCallback fires once per upward crossing of the output
	// buffer threshold.
	HighWaterMarkCallback func(*Connection, int)

	// closeCallback routes a closed connection back to its Server.
	closeCallback func(*Connection)
)

const defaultHighWaterMark = 64 * 1024 * 1024

// Connection drives one accepted socket against a worker loop.
type Connection struct {
	loop *reactor.EventLoop
	name string

	socket  *Socket
	channel *reactor.Channel

	local Addr
	peer  Addr

	state   atomic.Int32
	reading bool

	input  *buffer.Buffer
	output *buffer.Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	onClose               closeCallback

	context atomic.Value
}

// NewConnection wraps an accepted, connected descriptor. Called by the
// Server with a loop picked from its pool; user code receives connections
// through callbacks instead of constructing them.
func NewConnection(loop *reactor.EventLoop, name string, sockfd int, local, peer Addr) *Connection {
	c := &Connection{
		loop:          loop,
		name:          name,
		socket:        newSocket(sockfd),
		local:         local,
		peer:          peer,
		input:         buffer.New(),
		output:        buffer.New(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(StateConnecting)
	c.channel = reactor.NewChannel(loop, sockfd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.socket.SetKeepAlive(true)
	logging.L().Debug().Str("conn", name).Int("fd", sockfd).Msg("connection created")
	return c
}

// Name returns the server-assigned connection name.
func (c *Connection) Name() string { return c.name }

// OwnerLoop returns the worker loop this connection is pinned to.
func (c *Connection) OwnerLoop() *reactor.EventLoop { return c.loop }

// LocalAddr returns the local endpoint.
func (c *Connection) LocalAddr() Addr { return c.local }

// PeerAddr returns the remote endpoint.
func (c *Connection) PeerAddr() Addr { return c.peer }

// Connected reports whether the connection is in the CONNECTED state.
func (c *Connection) Connected() bool { return c.state.Load() == StateConnected }

// Disconnected reports whether the connection reached its terminal state.
func (c *Connection) Disconnected() bool { return c.state.Load() == StateDisconnected }

// SetContext stores an opaque per-connection user value.
func (c *Connection) SetContext(v any) { c.context.Store(v) }

// Context returns the value stored with SetContext, or nil.
func (c *Connection) Context() any { return c.context.Load() }

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *Connection) SetTCPNoDelay(on bool) { c.socket.SetTCPNoDelay(on) }

// SetKeepAlive toggles SO_KEEPALIVE on the underlying socket.
func (c *Connection) SetKeepAlive(on bool) { c.socket.SetKeepAlive(on) }

// SetConnectionCallback installs the establishment/teardown callback.
func (c *Connection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback installs the inbound-data callback.
func (c *Connection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback installs the output-drained callback.
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// SetHighWaterMarkCallback installs the backpressure callback with its
// threshold in bytes.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

func (c *Connection) setCloseCallback(cb closeCallback) { c.onClose = cb }

// InputBuffer exposes the inbound buffer; loop goroutine only.
func (c *Connection) InputBuffer() *buffer.Buffer { return c.input }

// OutputBuffer exposes the outbound buffer; loop goroutine only.
func (c *Connection) OutputBuffer() *buffer.Buffer { return c.output }

// Send queues data for transmission. Safe from any goroutine; off-loop
// callers get a private copy before the hop.
func (c *Connection) Send(data []byte) {
	if c.state.Load() != StateConnected {
		return
	}
	if c.loop.InLoopGoroutine() {
		c.sendInLoop(data)
		return
	}
	owned := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(owned) })
}

// SendString queues a string for transmission. Safe from any goroutine.
func (c *Connection) SendString(s string) {
	if c.state.Load() != StateConnected {
		return
	}
	if c.loop.InLoopGoroutine() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.RunInLoop(func() { c.sendInLoop([]byte(s)) })
}

// SendBuffer queues and consumes the readable region of buf.
func (c *Connection) SendBuffer(buf *buffer.Buffer) {
	c.Send(buf.Peek())
	buf.RetrieveAll()
}

func (c *Connection) sendInLoop(data []byte) {
	c.loop.AssertInLoopGoroutine()
	if c.state.Load() == StateDisconnected {
		logging.L().Warn().Str("conn", c.name).Msg("send on disconnected connection, dropped")
		return
	}

	nwrote := 0
	faulted := false
	// Direct write when nothing is queued; otherwise bytes would overtake
	// the buffered backlog.
	if !c.channel.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.socket.Fd(), data)
		if n >= 0 {
			nwrote = n
			if nwrote == len(data) && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN {
				logging.L().Error().Err(err).Str("conn", c.name).Msg("direct write failed")
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faulted = true
				}
			}
		}
	}

	remaining := len(data) - nwrote
	if remaining > 0 && !faulted {
		oldLen := c.output.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark &&
			oldLen < c.highWaterMark &&
			c.highWaterMarkCallback != nil {
			size := oldLen + remaining
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, size) })
		}
		c.output.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once the output buffer drains.
func (c *Connection) Shutdown() {
	if c.state.CompareAndSwap(StateConnected, StateDisconnecting) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Connection) shutdownInLoop() {
	c.loop.AssertInLoopGoroutine()
	if !c.channel.IsWriting() {
		// Backlog already flushed; close the write half now. Otherwise
		// handleWrite performs it after the final byte leaves.
		c.socket.ShutdownWrite()
	}
}

// ForceClose tears the connection down without waiting for the backlog.
func (c *Connection) ForceClose() {
	if c.state.CompareAndSwap(StateConnected, StateDisconnecting) ||
		c.state.Load() == StateDisconnecting {
		c.loop.QueueInLoop(func() {
			// Re-check: a peer close may have beaten this task.
			s := c.state.Load()
			if s == StateConnected || s == StateDisconnecting {
				c.handleClose()
			}
		})
	}
}

// ForceCloseWithDelay schedules ForceClose after d.
func (c *Connection) ForceCloseWithDelay(d time.Duration) {
	if c.state.CompareAndSwap(StateConnected, StateDisconnecting) ||
		c.state.Load() == StateDisconnecting {
		c.loop.RunAfter(d, c.ForceClose)
	}
}

// StartRead resumes readable interest. Safe from any goroutine.
func (c *Connection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.reading || !c.channel.IsReading() {
			c.channel.EnableReading()
			c.reading = true
		}
	})
}

// StopRead pauses readable interest. Safe from any goroutine.
func (c *Connection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.reading || c.channel.IsReading() {
			c.channel.DisableReading()
			c.reading = false
		}
	})
}

// IsReading reports whether the connection is consuming inbound data.
func (c *Connection) IsReading() bool { return c.reading }

// ConnectEstablished completes the handshake with the Server: transitions
// to CONNECTED, ties the channel, enables reading, and fires the
// connection callback. Runs exactly once, on the owner loop.
func (c *Connection) ConnectEstablished() {
	c.loop.AssertInLoopGoroutine()
	if !c.state.CompareAndSwap(StateConnecting, StateConnected) {
		logging.L().Panic().Str("conn", c.name).
			Str("state", stateName(c.state.Load())).
			Msg("connectEstablished in unexpected state")
	}
	c.channel.Tie(func() bool { return c.state.Load() != StateDisconnected })
	c.channel.EnableReading()
	c.reading = true
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed is the final teardown step, posted by the Server after
// the connection left its map. Idempotent with handleClose.
func (c *Connection) ConnectDestroyed() {
	c.loop.AssertInLoopGoroutine()
	if c.state.CompareAndSwap(StateConnected, StateDisconnected) {
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	c.socket.Close()
	logging.L().Debug().Str("conn", c.name).Msg("connection destroyed")
}

func (c *Connection) handleRead(receiveTime time.Time) {
	c.loop.AssertInLoopGoroutine()
	n, errno := c.input.ReadFd(c.socket.Fd())
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.input, receiveTime)
		} else {
			c.input.RetrieveAll()
		}
	case n == 0:
		c.handleClose()
	default:
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return
		}
		logging.L().Error().Str("errno", errno.Error()).Str("conn", c.name).Msg("read failed")
		c.handleError()
	}
}

func (c *Connection) handleWrite() {
	c.loop.AssertInLoopGoroutine()
	if !c.channel.IsWriting() {
		logging.L().Trace().Str("conn", c.name).Msg("connection is down, no more writing")
		return
	}
	n, err := unix.Write(c.socket.Fd(), c.output.Peek())
	if n > 0 {
		c.output.Retrieve(n)
		if c.output.ReadableBytes() == 0 {
			c.channel.DisableWriting()
			if c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
			if c.state.Load() == StateDisconnecting {
				c.shutdownInLoop()
			}
		}
		return
	}
	if err != unix.EAGAIN && err != unix.EINTR {
		logging.L().Error().Err(err).Str("conn", c.name).Msg("buffered write failed")
	}
}

func (c *Connection) handleClose() {
	c.loop.AssertInLoopGoroutine()
	s := c.state.Load()
	if s != StateConnected && s != StateDisconnecting {
		logging.L().Panic().Str("conn", c.name).Str("state", stateName(s)).
			Msg("handleClose in unexpected state")
	}
	logging.L().Debug().Str("conn", c.name).Str("state", stateName(s)).Msg("connection closing")
	c.state.Store(StateDisconnected)
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *Connection) handleError() {
	errno := socketError(c.socket.Fd())
	logging.L().Error().Str("conn", c.name).Str("soError", errno.Error()).
		Msg("connection error")
}
