// Copyright (c) 2026
// Author: momentics <momentics@gmail.com>

// Package tcp builds the stream-server front end on top of the reactor
// core: a listening acceptor on the accept loop, per-connection state
// machines pinned to worker loops, and the Server that composes both with
// a LoopPool. Sockets are raw non-blocking descriptors driven by
// golang.org/x/sys; net.Conn is deliberately not used.
package tcp
