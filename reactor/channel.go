// File: reactor/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

// Event bit sets. Readiness uses the same bit layout as the interest set,
// extended with error/hang-up bits reported by the kernel.
const (
	NoneEvent  uint32 = 0
	ReadEvent  uint32 = unix.EPOLLIN | unix.EPOLLPRI
	WriteEvent uint32 = unix.EPOLLOUT
)

// Channel binds one file descriptor to an interest set and readiness
// callbacks within a single EventLoop. It does not own the descriptor.
// All methods must be called from the owner loop's goroutine.
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32 // interest set
	revents uint32 // readiness observed by the last poll
	index   int    // poller-private registration state

	logHup bool

	alive         func() bool // owner liveness guard, see Tie
	tied          bool
	eventHandling bool
	addedToLoop   bool

	readCallback  func(receiveTime time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

// NewChannel creates a channel for fd owned by loop. The channel is not
// registered with the poller until the first interest change.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		index:  pollerNew,
		logHup: true,
	}
}

// Fd returns the watched descriptor.
func (c *Channel) Fd() int { return c.fd }

// OwnerLoop returns the loop this channel belongs to.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// Events returns the current interest set.
func (c *Channel) Events() uint32 { return c.events }

// SetRevents records the readiness bits observed by the poller.
func (c *Channel) SetRevents(revents uint32) { c.revents = revents }

// SetReadCallback installs the readable callback. It receives the poll
// return timestamp of the iteration that observed readiness.
func (c *Channel) SetReadCallback(cb func(time.Time)) { c.readCallback = cb }

// SetWriteCallback installs the writable callback.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the hang-up callback.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the error callback.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// SetLogHup controls warning output on POLLHUP (on by default).
func (c *Channel) SetLogHup(on bool) { c.logHup = on }

// Tie guards event dispatch with the owner's liveness. The guard stands in
// for a weak reference: it is consulted once per dispatch, and a false
// return drops the event silently. Owners whose teardown races with queued
// readiness (connections being destroyed across goroutines) rely on this to
// keep callbacks from firing after logical destruction.
func (c *Channel) Tie(alive func() bool) {
	c.alive = alive
	c.tied = true
}

// EnableReading adds readable interest.
func (c *Channel) EnableReading() {
	c.events |= ReadEvent
	c.update()
}

// DisableReading removes readable interest.
func (c *Channel) DisableReading() {
	c.events &^= ReadEvent
	c.update()
}

// EnableWriting adds writable interest.
func (c *Channel) EnableWriting() {
	c.events |= WriteEvent
	c.update()
}

// DisableWriting removes writable interest.
func (c *Channel) DisableWriting() {
	c.events &^= WriteEvent
	c.update()
}

// DisableAll clears the interest set.
func (c *Channel) DisableAll() {
	c.events = NoneEvent
	c.update()
}

// IsNoneEvent reports whether the interest set is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == NoneEvent }

// IsReading reports readable interest.
func (c *Channel) IsReading() bool { return c.events&ReadEvent != 0 }

// IsWriting reports writable interest.
func (c *Channel) IsWriting() bool { return c.events&WriteEvent != 0 }

// Remove detaches the channel from its poller. The interest set must be
// empty.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		logging.L().Panic().Int("fd", c.fd).Msg("channel removed with live interest set")
	}
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// HandleEvent dispatches the readiness observed by the last poll. Invoked
// by the owner loop only.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.tied && !c.alive() {
		return
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.logHup {
			logging.L().Warn().Int("fd", c.fd).Msg("channel observed POLLHUP")
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

// ReventsString renders the observed readiness for trace logging.
func (c *Channel) ReventsString() string { return eventsToString(c.fd, c.revents) }

// EventsString renders the interest set for trace logging.
func (c *Channel) EventsString() string { return eventsToString(c.fd, c.events) }

func eventsToString(fd int, ev uint32) string {
	var sb strings.Builder
	sb.WriteString("fd=")
	sb.WriteString(strconv.Itoa(fd))
	sb.WriteByte(':')
	if ev&unix.EPOLLIN != 0 {
		sb.WriteString(" IN")
	}
	if ev&unix.EPOLLPRI != 0 {
		sb.WriteString(" PRI")
	}
	if ev&unix.EPOLLOUT != 0 {
		sb.WriteString(" OUT")
	}
	if ev&unix.EPOLLHUP != 0 {
		sb.WriteString(" HUP")
	}
	if ev&unix.EPOLLRDHUP != 0 {
		sb.WriteString(" RDHUP")
	}
	if ev&unix.EPOLLERR != 0 {
		sb.WriteString(" ERR")
	}
	return sb.String()
}
