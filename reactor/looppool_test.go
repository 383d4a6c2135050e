// File: reactor/looppool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/reactor"
)

// poolFixture runs a base loop on its own thread and executes fn on it,
// which is where LoopPool methods must be called from.
func poolFixture(t *testing.T, workers int, fn func(base *reactor.EventLoop, pool *reactor.LoopPool)) {
	t.Helper()
	lt := reactor.NewLoopThread()
	base := lt.StartLoop()
	defer lt.Stop()

	pool := reactor.NewLoopPool(base, t.Name())
	pool.SetLoopNum(workers)
	defer pool.Stop()

	done := make(chan struct{})
	base.RunInLoop(func() {
		defer close(done)
		pool.Start(nil)
		fn(base, pool)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool fixture timed out")
	}
}

func TestEmptyPoolFallsBackToBaseLoop(t *testing.T) {
	poolFixture(t, 0, func(base *reactor.EventLoop, pool *reactor.LoopPool) {
		assert.Same(t, base, pool.NextLoop())
		assert.Same(t, base, pool.NextLoop())
		assert.Same(t, base, pool.LoopForHash(42))
		assert.Equal(t, []*reactor.EventLoop{base}, pool.AllLoops())
	})
}

func TestRoundRobinCycles(t *testing.T) {
	poolFixture(t, 3, func(base *reactor.EventLoop, pool *reactor.LoopPool) {
		first := pool.NextLoop()
		second := pool.NextLoop()
		third := pool.NextLoop()
		assert.NotSame(t, first, second)
		assert.NotSame(t, second, third)
		assert.NotSame(t, first, third)
		for _, l := range []*reactor.EventLoop{first, second, third} {
			assert.NotSame(t, base, l)
		}
		// Wraps around to the first worker.
		assert.Same(t, first, pool.NextLoop())
	})
}

func TestLoopForHashIsStable(t *testing.T) {
	poolFixture(t, 4, func(base *reactor.EventLoop, pool *reactor.LoopPool) {
		for code := uint64(0); code < 16; code++ {
			a := pool.LoopForHash(code)
			b := pool.LoopForHash(code)
			assert.Same(t, a, b)
		}
	})
}

func TestPoolInitCallbackRunsPerWorker(t *testing.T) {
	lt := reactor.NewLoopThread()
	base := lt.StartLoop()
	defer lt.Stop()

	pool := reactor.NewLoopPool(base, "init-test")
	pool.SetLoopNum(2)
	defer pool.Stop()

	inits := make(chan *reactor.EventLoop, 2)
	done := make(chan struct{})
	base.RunInLoop(func() {
		pool.Start(func(l *reactor.EventLoop) { inits <- l })
		close(done)
	})
	<-done

	seen := map[*reactor.EventLoop]bool{}
	for i := 0; i < 2; i++ {
		select {
		case l := <-inits:
			seen[l] = true
		case <-time.After(2 * time.Second):
			t.Fatal("init callback missing")
		}
	}
	assert.Len(t, seen, 2)
}

func TestLoopThreadHandsBackLiveLoop(t *testing.T) {
	lt := reactor.NewLoopThread()
	loop := lt.StartLoop()
	require.NotNil(t, loop)
	assert.Same(t, loop, lt.Loop())

	ran := make(chan struct{})
	loop.RunInLoop(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("loop not serving tasks after StartLoop returned")
	}
	lt.Stop()
}
