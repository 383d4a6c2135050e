// File: reactor/channel_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/reactor"
)

func makePipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestChannelReadDispatch(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	r, w := makePipe(t)

	got := make(chan time.Time, 1)
	var ch *reactor.Channel
	loop.RunInLoop(func() {
		ch = reactor.NewChannel(loop, r)
		ch.SetReadCallback(func(ts time.Time) {
			var buf [16]byte
			unix.Read(r, buf[:])
			got <- ts
		})
		ch.EnableReading()
	})

	before := time.Now()
	_, err := unix.Write(w, []byte("ping"))
	require.NoError(t, err)

	select {
	case ts := <-got:
		assert.False(t, ts.Before(before.Add(-time.Second)))
	case <-time.After(2 * time.Second):
		t.Fatal("read callback never fired")
	}

	detached := make(chan struct{})
	loop.RunInLoop(func() {
		ch.DisableAll()
		ch.Remove()
		close(detached)
	})
	<-detached
}

func TestChannelTieGuardDropsDispatch(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	r, w := makePipe(t)

	fired := make(chan struct{}, 4)
	registered := make(chan struct{})
	loop.RunInLoop(func() {
		ch := reactor.NewChannel(loop, r)
		ch.SetReadCallback(func(time.Time) { fired <- struct{}{} })
		ch.Tie(func() bool { return false }) // owner logically gone
		ch.EnableReading()
		close(registered)
	})
	<-registered

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("dispatch ran despite dead owner guard")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelWritableDispatch(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	r, w := makePipe(t)
	_ = r

	writable := make(chan struct{}, 1)
	loop.RunInLoop(func() {
		ch := reactor.NewChannel(loop, w)
		ch.SetWriteCallback(func() {
			select {
			case writable <- struct{}{}:
			default:
			}
			ch.DisableWriting()
		})
		ch.EnableWriting()
	})

	select {
	case <-writable:
	case <-time.After(2 * time.Second):
		t.Fatal("write callback never fired on writable pipe")
	}
}

func TestChannelInterestSetQueries(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	r, _ := makePipe(t)
	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)
		ch := reactor.NewChannel(loop, r)
		assert.True(t, ch.IsNoneEvent())
		ch.EnableReading()
		assert.True(t, ch.IsReading())
		assert.False(t, ch.IsWriting())
		ch.EnableWriting()
		assert.True(t, ch.IsWriting())
		ch.DisableAll()
		assert.True(t, ch.IsNoneEvent())
		ch.Remove()
	})
	<-done
}
