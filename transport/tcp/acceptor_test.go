// File: transport/tcp/acceptor_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

func TestAcceptorEmitsAcceptedConnections(t *testing.T) {
	lt := reactor.NewLoopThread()
	loop := lt.StartLoop()
	defer lt.Stop()

	type accepted struct {
		fd   int
		peer tcp.Addr
	}
	got := make(chan accepted, 4)

	var acc *tcp.Acceptor
	armed := make(chan struct{})
	loop.RunInLoop(func() {
		acc = tcp.NewAcceptor(loop, tcp.MustParseAddr("127.0.0.1:0"), false)
		acc.SetNewConnectionCallback(func(fd int, peer tcp.Addr) {
			got <- accepted{fd: fd, peer: peer}
		})
		acc.Listen()
		close(armed)
	})
	<-armed
	defer loop.RunInLoop(func() { acc.Close() })

	require.True(t, acc.Listening())
	addr := acc.BoundAddr()
	require.NotZero(t, addr.Port())

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	select {
	case a := <-got:
		assert.Equal(t, client.LocalAddr().String(), a.peer.String())
		unix.Close(a.fd)
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor never emitted the connection")
	}
}

func TestAcceptorWithoutCallbackClosesConnections(t *testing.T) {
	lt := reactor.NewLoopThread()
	loop := lt.StartLoop()
	defer lt.Stop()

	var acc *tcp.Acceptor
	armed := make(chan struct{})
	loop.RunInLoop(func() {
		acc = tcp.NewAcceptor(loop, tcp.MustParseAddr("127.0.0.1:0"), false)
		acc.Listen()
		close(armed)
	})
	<-armed
	defer loop.RunInLoop(func() { acc.Close() })

	client, err := net.Dial("tcp", acc.BoundAddr().String())
	require.NoError(t, err)
	defer client.Close()

	// With no sink installed the acceptor closes the socket at once; the
	// client observes EOF.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err)
}
