// File: reactor/loopthread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"sync"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/logging"
)

// LoopThread pairs a worker goroutine (locked to an OS thread) with the
// EventLoop it runs. The loop is created inside the worker so the
// one-loop-per-goroutine invariant holds, and the handle is passed back
// once the worker is about to enter Loop().
type LoopThread struct {
	init func(*EventLoop) // optional, runs on the worker before looping
	cpu  int              // logical CPU to pin, -1 for none

	mu      sync.Mutex
	loop    *EventLoop
	started bool
	ready   chan *EventLoop
	done    chan struct{}
}

// LoopThreadOption customizes a LoopThread.
type LoopThreadOption func(*LoopThread)

// WithInitCallback runs init on the worker goroutine after the loop is
// constructed and before it starts looping.
func WithInitCallback(init func(*EventLoop)) LoopThreadOption {
	return func(t *LoopThread) { t.init = init }
}

// WithCPU pins the worker's OS thread to the given logical CPU.
func WithCPU(cpu int) LoopThreadOption {
	return func(t *LoopThread) { t.cpu = cpu }
}

// NewLoopThread creates an unstarted LoopThread.
func NewLoopThread(opts ...LoopThreadOption) *LoopThread {
	t := &LoopThread{
		cpu:   -1,
		ready: make(chan *EventLoop, 1),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// StartLoop spawns the worker and blocks until its EventLoop exists,
// returning the handle. Call once.
func (t *LoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		logging.L().Panic().Msg("LoopThread started twice")
	}
	t.started = true
	t.mu.Unlock()

	go t.threadFunc()

	loop := <-t.ready
	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	return loop
}

// Loop returns the worker's EventLoop, or nil before StartLoop completes.
func (t *LoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop quits the worker's loop and waits for the goroutine to exit.
func (t *LoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Quit()
	<-t.done
}

func (t *LoopThread) threadFunc() {
	defer close(t.done)

	if t.cpu >= 0 {
		if err := affinity.Pin(t.cpu); err != nil {
			logging.L().Warn().Err(err).Int("cpu", t.cpu).Msg("loop thread pin failed")
		}
	}

	loop := NewEventLoop()
	if t.init != nil {
		t.init(loop)
	}
	t.ready <- loop

	loop.Loop()
	_ = loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
}
