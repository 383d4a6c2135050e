// File: reactor/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One loop per goroutine, the goroutine locked to its OS thread for the
// lifetime of Loop(). Everything the loop owns — poller, timer queue,
// channels, the consumer side of the pending-task list — is touched only
// from that goroutine. Other goroutines hand work over with RunInLoop or
// QueueInLoop, which wake the poller through an eventfd.

package reactor

import (
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/logging"
)

const defaultPollTimeoutMs = 10000

// Writes to peers that went away must surface as EPIPE errors on the write
// path, not kill the process.
func init() {
	signal.Ignore(syscall.SIGPIPE)
}

// loopRegistry maps goroutine id -> *EventLoop, standing in for the
// thread-local pointer that enforces one loop per goroutine.
var loopRegistry sync.Map

// goroutineID parses the current goroutine's id out of the stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// CurrentLoop returns the EventLoop owned by the calling goroutine, or nil.
func CurrentLoop() *EventLoop {
	if l, ok := loopRegistry.Load(goroutineID()); ok {
		return l.(*EventLoop)
	}
	return nil
}

// EventLoop is a single-goroutine reactor. Construct it on the goroutine
// that will call Loop().
type EventLoop struct {
	gid       uint64
	looping   atomic.Bool
	quitFlag  atomic.Bool
	iteration atomic.Uint64

	poller Poller
	timers *timerQueue

	wakeupFd      int
	wakeupChannel *Channel

	activeChannels []*Channel
	currentActive  *Channel
	eventHandling  bool
	pollReturnTime time.Time

	mu             sync.Mutex
	pending        *queue.Queue // of func()
	callingPending atomic.Bool

	context atomic.Value // opaque user slot
}

// NewEventLoop creates a loop bound to the calling goroutine. Creating a
// second loop on the same goroutine panics.
func NewEventLoop() *EventLoop {
	gid := goroutineID()
	l := &EventLoop{
		gid:     gid,
		pending: queue.New(),
	}
	if _, loaded := loopRegistry.LoadOrStore(gid, l); loaded {
		logging.L().Panic().
			Uint64("goroutine", gid).
			Msg("another EventLoop already exists on this goroutine")
	}
	l.poller = NewDefaultPoller(l)
	l.timers = newTimerQueue(l)
	l.wakeupFd = createWakeupFd()
	l.wakeupChannel = NewChannel(l, l.wakeupFd)
	l.wakeupChannel.SetReadCallback(func(time.Time) { l.handleWakeup() })
	// Always reading the wakeup fd.
	l.wakeupChannel.EnableReading()
	logging.L().Debug().Uint64("goroutine", gid).Msg("EventLoop created")
	return l
}

// Loop runs the reactor until Quit is observed. Callable only on the
// creation goroutine; the goroutine is pinned to its OS thread while
// looping.
func (l *EventLoop) Loop() {
	l.AssertInLoopGoroutine()
	if !l.looping.CompareAndSwap(false, true) {
		logging.L().Panic().Msg("EventLoop.Loop called reentrantly")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logging.L().Trace().Uint64("goroutine", l.gid).Msg("EventLoop start looping")

	for !l.quitFlag.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnTime = l.poller.Poll(defaultPollTimeoutMs, &l.activeChannels)
		l.iteration.Add(1)

		l.eventHandling = true
		for _, ch := range l.activeChannels {
			l.currentActive = ch
			ch.HandleEvent(l.pollReturnTime)
		}
		l.currentActive = nil
		l.eventHandling = false

		l.doPendingTasks()
	}

	logging.L().Trace().Uint64("goroutine", l.gid).Msg("EventLoop stop looping")
	l.looping.Store(false)
}

// Quit asks the loop to exit after the current iteration. Idempotent; safe
// from any goroutine.
func (l *EventLoop) Quit() {
	l.quitFlag.Store(true)
	if !l.InLoopGoroutine() {
		l.wakeup()
	}
}

// RunInLoop runs task on the loop goroutine: inline when already there,
// queued plus wake-up otherwise.
func (l *EventLoop) RunInLoop(task func()) {
	if l.InLoopGoroutine() {
		task()
	} else {
		l.QueueInLoop(task)
	}
}

// QueueInLoop enqueues task unconditionally. The loop is woken when the
// caller is foreign, and also while the pending list is draining so a task
// queued by another pending task is served on the very next iteration.
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pending.Add(task)
	l.mu.Unlock()

	if !l.InLoopGoroutine() || l.callingPending.Load() {
		l.wakeup()
	}
}

// QueueSize returns the number of tasks waiting for the next drain.
func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

// RunAt schedules cb at the absolute time when.
func (l *EventLoop) RunAt(when time.Time, cb func()) TimerID {
	return l.timers.addTimer(cb, when, 0)
}

// RunAfter schedules cb after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return l.timers.addTimer(cb, time.Now().Add(delay), 0)
}

// RunEvery schedules cb periodically at the given interval.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return l.timers.addTimer(cb, time.Now().Add(interval), interval)
}

// Cancel revokes a scheduled timer. Cancelling a periodic timer from
// inside its own callback stops it from refiring.
func (l *EventLoop) Cancel(id TimerID) {
	l.timers.cancel(id)
}

// UpdateChannel forwards a channel registration change to the poller.
func (l *EventLoop) UpdateChannel(c *Channel) {
	if c.OwnerLoop() != l {
		logging.L().Panic().Int("fd", c.Fd()).Msg("channel updated on foreign loop")
	}
	l.AssertInLoopGoroutine()
	l.poller.UpdateChannel(c)
}

// RemoveChannel detaches a channel from the poller.
func (l *EventLoop) RemoveChannel(c *Channel) {
	if c.OwnerLoop() != l {
		logging.L().Panic().Int("fd", c.Fd()).Msg("channel removed on foreign loop")
	}
	l.AssertInLoopGoroutine()
	if l.eventHandling && l.currentActive != c {
		for _, active := range l.activeChannels {
			if active == c {
				logging.L().Panic().Int("fd", c.Fd()).
					Msg("removing a channel still queued for dispatch")
			}
		}
	}
	l.poller.RemoveChannel(c)
}

// HasChannel reports whether c is registered with this loop's poller.
func (l *EventLoop) HasChannel(c *Channel) bool {
	if c.OwnerLoop() != l {
		logging.L().Panic().Int("fd", c.Fd()).Msg("channel queried on foreign loop")
	}
	l.AssertInLoopGoroutine()
	return l.poller.HasChannel(c)
}

// InLoopGoroutine reports whether the caller is the loop's goroutine.
func (l *EventLoop) InLoopGoroutine() bool {
	return goroutineID() == l.gid
}

// AssertInLoopGoroutine panics when called off the loop goroutine.
func (l *EventLoop) AssertInLoopGoroutine() {
	if !l.InLoopGoroutine() {
		logging.L().Panic().
			Uint64("owner", l.gid).
			Uint64("caller", goroutineID()).
			Msg("EventLoop method called off its goroutine")
	}
}

// Iteration returns the number of completed poll iterations.
func (l *EventLoop) Iteration() uint64 { return l.iteration.Load() }

// PollReturnTime returns the timestamp of the latest poller wake-up.
func (l *EventLoop) PollReturnTime() time.Time { return l.pollReturnTime }

// EventHandling reports whether the loop is dispatching readiness.
func (l *EventLoop) EventHandling() bool { return l.eventHandling }

// SetContext stores an opaque user value on the loop.
func (l *EventLoop) SetContext(v any) { l.context.Store(v) }

// Context returns the value stored with SetContext, or nil.
func (l *EventLoop) Context() any { return l.context.Load() }

// Close releases the loop's kernel resources. Call after Loop has
// returned, on the loop goroutine.
func (l *EventLoop) Close() error {
	l.AssertInLoopGoroutine()
	if l.looping.Load() {
		logging.L().Panic().Msg("EventLoop.Close called while looping")
	}
	l.timers.close()
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	_ = closeFd(l.wakeupFd)
	err := l.poller.Close()
	loopRegistry.Delete(l.gid)
	return err
}

// wakeup breaks the poller's blocking wait by writing the eventfd.
func (l *EventLoop) wakeup() {
	n, err := writeWakeup(l.wakeupFd)
	if err != nil || n != 8 {
		logging.L().Error().Err(err).Int("n", n).Msg("eventfd wakeup write failed")
	}
}

func (l *EventLoop) handleWakeup() {
	n, err := readWakeup(l.wakeupFd)
	if err != nil || n != 8 {
		logging.L().Error().Err(err).Int("n", n).Msg("eventfd wakeup read failed")
	}
}

// doPendingTasks swaps the pending list out under the mutex so user code
// runs unlocked and re-entrant enqueues land on a fresh list.
func (l *EventLoop) doPendingTasks() {
	l.callingPending.Store(true)
	l.mu.Lock()
	tasks := l.pending
	l.pending = queue.New()
	l.mu.Unlock()

	for tasks.Length() > 0 {
		tasks.Remove().(func())()
	}
	l.callingPending.Store(false)
}
