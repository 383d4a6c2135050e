// File: transport/tcp/fromconfig.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"github.com/momentics/hioload-net/config"
	"github.com/momentics/hioload-net/reactor"
)

// NewServerFromConfig builds a Server from a loaded configuration. The
// per-connection knobs (TCP_NODELAY, keep-alive) are applied on each
// accepted connection before the user's connection callback runs.
func NewServerFromConfig(loop *reactor.EventLoop, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := ParseAddr(cfg.Listen)
	if err != nil {
		return nil, err
	}

	var opts []ServerOption
	if cfg.ReusePort {
		opts = append(opts, WithReusePort())
	}
	if cfg.IOThreads > 0 {
		opts = append(opts, WithThreadNum(cfg.IOThreads))
	}
	if len(cfg.CPUs) > 0 {
		opts = append(opts, WithCPUs(cfg.CPUs))
	}
	if cfg.ComputeWorkers > 0 {
		opts = append(opts, WithComputePool(cfg.ComputeWorkers))
	}

	s := NewServer(loop, addr, cfg.Name, opts...)
	s.connOptions = &connOptions{
		tcpNoDelay: cfg.TCPNoDelay,
		keepAlive:  cfg.KeepAlive,
	}
	return s, nil
}
