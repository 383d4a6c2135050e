// File: transport/tcp/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/workers"
)

// Server accepts on one loop and spreads connections over a worker pool.
// The accept loop is supplied by the caller and driven externally; Start
// only arms the acceptor and boots the workers.
type Server struct {
	loop   *reactor.EventLoop // accept loop
	ipPort string
	name   string

	acceptor *Acceptor
	pool     *reactor.LoopPool
	compute  *workers.Pool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	threadInitCallback    func(*reactor.EventLoop)

	started atomic.Bool

	// per-connection socket knobs, set when built from a config file
	connOptions *connOptions

	// accept-loop state
	nextConnID  uint64
	connections map[string]*Connection
}

type connOptions struct {
	tcpNoDelay bool
	keepAlive  bool
}

// ServerOption customizes server construction.
type ServerOption func(*serverConfig)

type serverConfig struct {
	reusePort      bool
	threads        int
	cpus           []int
	computeWorkers int
}

// WithReusePort enables SO_REUSEPORT on the listening socket.
func WithReusePort() ServerOption {
	return func(c *serverConfig) { c.reusePort = true }
}

// WithThreadNum sets the number of worker loops (0 = single reactor).
func WithThreadNum(n int) ServerOption {
	return func(c *serverConfig) { c.threads = n }
}

// WithCPUs pins worker loop threads to the given logical CPUs, cycled.
func WithCPUs(cpus []int) ServerOption {
	return func(c *serverConfig) { c.cpus = cpus }
}

// WithComputePool attaches an n-worker compute pool reachable via Compute.
func WithComputePool(n int) ServerOption {
	return func(c *serverConfig) { c.computeWorkers = n }
}

// NewServer builds a server listening on listenAddr once started. The
// provided loop becomes the accept reactor.
func NewServer(loop *reactor.EventLoop, listenAddr Addr, name string, opts ...ServerOption) *Server {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}

	s := &Server{
		loop:               loop,
		ipPort:             listenAddr.String(),
		name:               name,
		acceptor:           NewAcceptor(loop, listenAddr, cfg.reusePort),
		pool:               reactor.NewLoopPool(loop, name),
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		nextConnID:         1,
		connections:        make(map[string]*Connection),
	}
	s.pool.SetLoopNum(cfg.threads)
	if len(cfg.cpus) > 0 {
		s.pool.SetCPUs(cfg.cpus)
	}
	if cfg.computeWorkers > 0 {
		p, err := workers.New(cfg.computeWorkers)
		if err != nil {
			logging.L().Fatal().Err(err).Msg("compute pool creation failed")
		}
		s.compute = p
	}
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	return s
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// IPPort returns the listen address as text.
func (s *Server) IPPort() string { return s.ipPort }

// ListenAddr returns the bound listen address, with the kernel-assigned
// port when the server was configured with port 0.
func (s *Server) ListenAddr() Addr { return s.acceptor.BoundAddr() }

// AcceptLoop returns the accept reactor.
func (s *Server) AcceptLoop() *reactor.EventLoop { return s.loop }

// SetThreadNum sets the worker loop count. Must precede Start.
func (s *Server) SetThreadNum(n int) { s.pool.SetLoopNum(n) }

// SetThreadInitCallback runs cb on each worker loop goroutine at boot.
func (s *Server) SetThreadInitCallback(cb func(*reactor.EventLoop)) { s.threadInitCallback = cb }

// SetConnectionCallback installs the user establishment/teardown callback
// for future connections.
func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback installs the user inbound-data callback.
func (s *Server) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback installs the user output-drained callback.
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

// Compute submits task to the server's compute pool. Returns an error when
// the server was built without WithComputePool.
func (s *Server) Compute(task func()) error {
	if s.compute == nil {
		return fmt.Errorf("tcp: server %s has no compute pool", s.name)
	}
	return s.compute.Submit(task)
}

// Start boots the worker pool and arms the acceptor. Idempotent; safe
// from any goroutine. Called off the accept loop, the work is queued onto
// that loop and Start returns before the acceptor is listening.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.loop.RunInLoop(func() {
		s.pool.Start(s.threadInitCallback)
		if s.acceptor.Listening() {
			logging.L().Panic().Str("server", s.name).Msg("acceptor already listening")
		}
		s.acceptor.Listen()
		logging.L().Info().Str("server", s.name).Str("addr", s.ipPort).Msg("server started")
	})
}

// Stop tears the server down: every live connection is destroyed on its
// worker loop, the acceptor is detached, and the worker loops are joined.
// After Stop returns no callback will fire. Must not be called from a
// loop goroutine.
func (s *Server) Stop() {
	done := make(chan struct{})
	s.loop.RunInLoop(func() {
		defer close(done)
		logging.L().Info().Str("server", s.name).Msg("server stopping")
		s.acceptor.Close()
		for name, conn := range s.connections {
			delete(s.connections, name)
			conn.OwnerLoop().RunInLoop(conn.ConnectDestroyed)
		}
	})
	<-done
	s.pool.Stop()
	if s.compute != nil {
		s.compute.Release()
	}
}

// ConnectionCount returns the number of live connections; accept loop
// goroutine only.
func (s *Server) ConnectionCount() int {
	s.loop.AssertInLoopGoroutine()
	return len(s.connections)
}

// HasConnection reports whether a connection with the given name is still
// tracked; accept loop goroutine only.
func (s *Server) HasConnection(name string) bool {
	s.loop.AssertInLoopGoroutine()
	_, ok := s.connections[name]
	return ok
}

func (s *Server) newConnection(sockfd int, peer Addr) {
	s.loop.AssertInLoopGoroutine()
	ioLoop := s.pool.NextLoop()
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++

	local := localAddr(sockfd)
	logging.L().Info().
		Str("server", s.name).
		Str("conn", connName).
		Stringer("peer", peer).
		Msg("new connection")

	conn := NewConnection(ioLoop, connName, sockfd, local, peer)
	if s.connOptions != nil {
		conn.SetTCPNoDelay(s.connOptions.tcpNoDelay)
		conn.SetKeepAlive(s.connOptions.keepAlive)
	}
	s.connections[connName] = conn
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.setCloseCallback(s.removeConnection)
	ioLoop.RunInLoop(conn.ConnectEstablished)
}

// removeConnection hops back to the accept loop to unregister, then posts
// the final teardown to the worker loop. The closure keeps the connection
// alive across both hops.
func (s *Server) removeConnection(conn *Connection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Connection) {
	s.loop.AssertInLoopGoroutine()
	logging.L().Info().Str("server", s.name).Str("conn", conn.Name()).Msg("connection removed")
	delete(s.connections, conn.Name())
	conn.OwnerLoop().QueueInLoop(conn.ConnectDestroyed)
}

func defaultConnectionCallback(c *Connection) {
	state := "down"
	if c.Connected() {
		state = "up"
	}
	logging.L().Trace().
		Stringer("local", c.LocalAddr()).
		Stringer("peer", c.PeerAddr()).
		Str("state", state).
		Msg("connection state")
}

func defaultMessageCallback(_ *Connection, buf *buffer.Buffer, _ time.Time) {
	buf.RetrieveAll()
}
