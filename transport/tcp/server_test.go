// File: transport/tcp/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

// testServer boots an accept loop on its own thread and a server on an
// ephemeral loopback port. setup runs before Start to install callbacks.
func testServer(t *testing.T, setup func(*tcp.Server), opts ...tcp.ServerOption) (*tcp.Server, string, func()) {
	t.Helper()
	lt := reactor.NewLoopThread()
	loop := lt.StartLoop()

	srv := tcp.NewServer(loop, tcp.MustParseAddr("127.0.0.1:0"), t.Name(), opts...)
	if setup != nil {
		setup(srv)
	}
	srv.Start()
	// Start queues the listen onto the accept loop; wait for that task to
	// run so callers can dial as soon as testServer returns.
	armed := make(chan struct{})
	loop.RunInLoop(func() { close(armed) })
	<-armed

	stop := func() {
		srv.Stop()
		lt.Stop()
	}
	return srv, srv.ListenAddr().String(), stop
}

// connCount reads the live-connection count from the accept loop.
func connCount(srv *tcp.Server) int {
	n := make(chan int, 1)
	srv.AcceptLoop().RunInLoop(func() { n <- srv.ConnectionCount() })
	return <-n
}

func waitForConnCount(t *testing.T, srv *tcp.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if connCount(srv) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection count never reached %d", want)
}

func TestEchoRoundTrip(t *testing.T) {
	var established *tcp.Connection
	connCh := make(chan *tcp.Connection, 2)

	srv, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) { connCh <- c })
		s.SetMessageCallback(func(c *tcp.Connection, buf *buffer.Buffer, _ time.Time) {
			c.SendString(buf.RetrieveAllAsString())
		})
	}, tcp.WithThreadNum(1))
	defer stop()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	established = <-connCh
	assert.True(t, established.Connected())

	msg := []byte("hello\n")
	_, err = client.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	require.NoError(t, client.Close())

	down := <-connCh
	assert.Same(t, established, down)
	assert.True(t, down.Disconnected())
	waitForConnCount(t, srv, 0)
}

func TestConnectionNameAndAddrs(t *testing.T) {
	connCh := make(chan *tcp.Connection, 2)
	_, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if c.Connected() {
				connCh <- c
			}
		})
	})
	defer stop()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	c := <-connCh
	assert.Contains(t, c.Name(), t.Name()+"-")
	assert.Contains(t, c.Name(), "#1")
	assert.Equal(t, addr, c.LocalAddr().String())
	assert.Equal(t, client.LocalAddr().String(), c.PeerAddr().String())
}

// A non-reading peer plus a send larger than the kernel buffers must cross
// the high-water mark exactly once.
func TestHighWaterMarkFiresOncePerCrossing(t *testing.T) {
	const mark = 1024
	payload := bytes.Repeat([]byte("w"), 8*1024*1024)

	hwm := make(chan int, 8)
	_, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if !c.Connected() {
				return
			}
			c.SetHighWaterMarkCallback(func(_ *tcp.Connection, size int) {
				hwm <- size
			}, mark)
			c.Send(payload)
		})
	})
	defer stop()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	select {
	case size := <-hwm:
		assert.GreaterOrEqual(t, size, mark)
	case <-time.After(3 * time.Second):
		t.Fatal("high-water mark never fired")
	}

	// Still above the mark: no second crossing may be reported.
	select {
	case <-hwm:
		t.Fatal("high-water mark fired twice for one crossing")
	case <-time.After(200 * time.Millisecond):
	}

	// Drain so the server can shut down cleanly.
	go io.Copy(io.Discard, client) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)
	client.Close()
}

// Shutdown must keep the write half open until the buffered backlog is
// flushed; the client then sees the full payload followed by EOF.
func TestShutdownDrainsBacklogBeforeEOF(t *testing.T) {
	payload := bytes.Repeat([]byte("d"), 2*1024*1024)

	_, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if c.Connected() {
				c.Send(payload)
				c.Shutdown()
			}
		})
	})
	defer stop()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	got, err := io.ReadAll(client) // reads until EOF
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
	assert.Equal(t, payload, got)
}

// Sends issued from a foreign goroutine must hop onto the worker loop and
// come out in FIFO order.
func TestCrossGoroutineSendFIFO(t *testing.T) {
	connCh := make(chan *tcp.Connection, 1)
	_, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if c.Connected() {
				connCh <- c
			}
		})
	}, tcp.WithThreadNum(2))
	defer stop()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	conn := <-connCh
	var want bytes.Buffer
	for i := byte('a'); i <= 'z'; i++ {
		chunk := bytes.Repeat([]byte{i}, 100)
		want.Write(chunk)
		conn.Send(chunk) // test goroutine, not the loop
	}

	got := make([]byte, want.Len())
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), got)
}

// Stopping a server with open connections must destroy each of them and
// silence all callbacks.
func TestServerStopDestroysConnections(t *testing.T) {
	down := make(chan string, 8)
	srv, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if c.Disconnected() {
				down <- c.Name()
			}
		})
	}, tcp.WithThreadNum(3))

	var clients []net.Conn
	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	waitForConnCount(t, srv, 3)

	stop()

	names := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case n := <-down:
			names[n] = true
		case <-time.After(2 * time.Second):
			t.Fatal("teardown callback missing")
		}
	}
	assert.Len(t, names, 3)

	for _, c := range clients {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := c.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF)
		c.Close()
	}
}

func TestStartIsIdempotent(t *testing.T) {
	srv, addr, stop := testServer(t, nil)
	defer stop()

	srv.Start()
	srv.Start()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	client.Close()
}

func TestRoundRobinSpreadsConnections(t *testing.T) {
	loops := make(chan *reactor.EventLoop, 8)
	srv, addr, stop := testServer(t, func(s *tcp.Server) {
		s.SetConnectionCallback(func(c *tcp.Connection) {
			if c.Connected() {
				loops <- c.OwnerLoop()
			}
		})
	}, tcp.WithThreadNum(2))
	defer stop()

	var clients []net.Conn
	for i := 0; i < 4; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	waitForConnCount(t, srv, 4)

	seen := map[*reactor.EventLoop]int{}
	for i := 0; i < 4; i++ {
		seen[<-loops]++
	}
	assert.Len(t, seen, 2, "connections must spread over both workers")
	for _, n := range seen {
		assert.Equal(t, 2, n)
	}
	for _, c := range clients {
		c.Close()
	}
}
