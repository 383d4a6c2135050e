// File: reactor/looppool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-net/logging"
)

// LoopPool owns a set of worker LoopThreads and dispenses their loops by
// round-robin or stable hash. With zero workers every request falls back
// to the base loop, collapsing the server to single-reactor mode.
type LoopPool struct {
	baseLoop *EventLoop
	name     string

	numLoops int
	cpus     []int // optional per-worker pin set, cycled

	started bool
	next    int
	threads []*LoopThread
	loops   []*EventLoop
}

// NewLoopPool creates a pool whose lifecycle is driven from baseLoop.
func NewLoopPool(baseLoop *EventLoop, name string) *LoopPool {
	return &LoopPool{baseLoop: baseLoop, name: name}
}

// SetLoopNum sets the number of worker loops. Must precede Start.
func (p *LoopPool) SetLoopNum(n int) {
	if n < 0 {
		logging.L().Panic().Int("n", n).Msg("negative loop count")
	}
	p.numLoops = n
}

// SetCPUs supplies logical CPUs to pin worker threads to, assigned
// round-robin. Must precede Start.
func (p *LoopPool) SetCPUs(cpus []int) {
	p.cpus = cpus
}

// Start boots every worker and blocks until all loops are live. init, when
// non-nil, runs on each worker goroutine (and, with zero workers, once on
// the base loop). Must be called on the base loop's goroutine.
func (p *LoopPool) Start(init func(*EventLoop)) {
	if p.started {
		logging.L().Panic().Str("pool", p.name).Msg("LoopPool started twice")
	}
	p.baseLoop.AssertInLoopGoroutine()
	p.started = true

	for i := 0; i < p.numLoops; i++ {
		opts := []LoopThreadOption{}
		if init != nil {
			opts = append(opts, WithInitCallback(init))
		}
		if len(p.cpus) > 0 {
			opts = append(opts, WithCPU(p.cpus[i%len(p.cpus)]))
		}
		t := NewLoopThread(opts...)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
	if p.numLoops == 0 && init != nil {
		init(p.baseLoop)
	}
	logging.L().Info().Str("pool", p.name).Int("loops", p.numLoops).Msg("loop pool started")
}

// Stop quits every worker loop and joins the threads. Safe to call from
// any goroutine except a worker's own.
func (p *LoopPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}

// NextLoop returns the next worker by round-robin, or the base loop when
// the pool is empty. Must be called on the base loop's goroutine.
func (p *LoopPool) NextLoop() *EventLoop {
	p.baseLoop.AssertInLoopGoroutine()
	if !p.started {
		logging.L().Panic().Str("pool", p.name).Msg("NextLoop before Start")
	}
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next++
	if p.next >= len(p.loops) {
		p.next = 0
	}
	return loop
}

// LoopForHash returns a worker chosen by a stable hash of code, so the
// same key always lands on the same loop. Must be called on the base
// loop's goroutine.
func (p *LoopPool) LoopForHash(code uint64) *EventLoop {
	p.baseLoop.AssertInLoopGoroutine()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[code%uint64(len(p.loops))]
}

// AllLoops returns every loop in the pool, or the base loop when empty.
func (p *LoopPool) AllLoops() []*EventLoop {
	p.baseLoop.AssertInLoopGoroutine()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return append([]*EventLoop(nil), p.loops...)
}

// Started reports whether Start has run.
func (p *LoopPool) Started() bool { return p.started }

// Name returns the pool's name.
func (p *LoopPool) Name() string { return p.name }

func (p *LoopPool) String() string {
	return fmt.Sprintf("LoopPool(%s, %d loops)", p.name, p.numLoops)
}
