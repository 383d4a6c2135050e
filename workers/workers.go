// File: workers/workers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Compute pool for work that must not run on a reactor loop. Loop
// callbacks are expected never to block; anything heavy is submitted here
// and the result posted back with RunInLoop.

package workers

import (
	"github.com/panjf2000/ants/v2"

	"github.com/momentics/hioload-net/logging"
)

// Pool is a bounded goroutine pool.
type Pool struct {
	inner *ants.Pool
}

// New creates a pool of size workers. A panic escaping a submitted task is
// a programming error the pool cannot recover from; it is logged and
// aborts the process.
func New(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		logging.L().Fatal().Interface("panic", v).Msg("compute task panicked")
	}))
	if err != nil {
		return nil, err
	}
	return &Pool{inner: p}, nil
}

// Submit hands task to an idle worker, blocking while the pool is
// saturated.
func (p *Pool) Submit(task func()) error {
	return p.inner.Submit(task)
}

// Running returns the number of busy workers.
func (p *Pool) Running() int { return p.inner.Running() }

// Cap returns the pool size.
func (p *Pool) Cap() int { return p.inner.Cap() }

// Release stops the pool and discards idle workers.
func (p *Pool) Release() { p.inner.Release() }
