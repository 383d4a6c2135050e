//go:build linux

// File: reactor/epollpoller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// epoll(7)-backed Poller. Level-triggered: the connection layer drains
// sockets buffer-at-a-time and relies on re-notification for the rest.

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/logging"
)

const initialEventListSize = 16

type epollPoller struct {
	loop     *EventLoop
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPlatformPoller(loop *EventLoop) Poller {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("epoll_create1 failed")
	}
	return &epollPoller{
		loop:     loop,
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initialEventListSize),
		channels: make(map[int]*Channel),
	}
}

func (p *epollPoller) Poll(timeoutMs int, active *[]*Channel) time.Time {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	now := time.Now()
	switch {
	case err == unix.EINTR:
		// retried on the next iteration
	case err != nil:
		logging.L().Error().Err(err).Msg("epoll_wait failed")
	case n == 0:
		logging.L().Trace().Msg("poll timed out, nothing happened")
	default:
		p.fillActiveChannels(n, active)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, 2*len(p.events))
		}
	}
	return now
}

func (p *epollPoller) fillActiveChannels(n int, active *[]*Channel) {
	for i := 0; i < n; i++ {
		ch, ok := p.channels[int(p.events[i].Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(p.events[i].Events)
		*active = append(*active, ch)
	}
}

func (p *epollPoller) UpdateChannel(c *Channel) {
	p.loop.AssertInLoopGoroutine()
	switch c.index {
	case pollerNew, pollerDeleted:
		if c.index == pollerNew {
			p.channels[c.fd] = c
		}
		c.index = pollerAdded
		p.ctl(unix.EPOLL_CTL_ADD, c)
	case pollerAdded:
		if c.IsNoneEvent() {
			p.ctl(unix.EPOLL_CTL_DEL, c)
			c.index = pollerDeleted
		} else {
			p.ctl(unix.EPOLL_CTL_MOD, c)
		}
	}
}

func (p *epollPoller) RemoveChannel(c *Channel) {
	p.loop.AssertInLoopGoroutine()
	if !c.IsNoneEvent() {
		logging.L().Panic().Int("fd", c.fd).Msg("removing channel with live interest set")
	}
	idx := c.index
	delete(p.channels, c.fd)
	if idx == pollerAdded {
		p.ctl(unix.EPOLL_CTL_DEL, c)
	}
	c.index = pollerNew
}

func (p *epollPoller) HasChannel(c *Channel) bool {
	p.loop.AssertInLoopGoroutine()
	found, ok := p.channels[c.fd]
	return ok && found == c
}

func (p *epollPoller) ctl(op int, c *Channel) {
	ev := unix.EpollEvent{Events: c.events, Fd: int32(c.fd)}
	if err := unix.EpollCtl(p.epfd, op, c.fd, &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logging.L().Error().Err(err).Int("fd", c.fd).Msg("epoll_ctl del failed")
			return
		}
		logging.L().Fatal().Err(err).Int("fd", c.fd).Int("op", op).Msg("epoll_ctl failed")
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
