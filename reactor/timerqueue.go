// File: reactor/timerqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer queue backed by a timerfd channel on the owner loop. Two indices
// cover the same entries: a min-heap ordered by (expiration, sequence) to
// collect everything expired, and a sequence-keyed map to locate entries
// for cancellation. Both indices always hold exactly the same entries.

package reactor

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-net/logging"
)

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].expiration.Equal(h[j].expiration) {
		return h[i].expiration.Before(h[j].expiration)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

type timerQueue struct {
	loop           *EventLoop
	timerfd        int
	timerfdChannel *Channel

	timers timerHeap        // (expiration, seq) order
	active map[int64]*timer // seq -> entry, for cancellation

	callingExpired  bool
	cancelingTimers map[int64]struct{}
}

func newTimerQueue(loop *EventLoop) *timerQueue {
	tq := &timerQueue{
		loop:            loop,
		timerfd:         createTimerfd(),
		active:          make(map[int64]*timer),
		cancelingTimers: make(map[int64]struct{}),
	}
	tq.timerfdChannel = NewChannel(loop, tq.timerfd)
	tq.timerfdChannel.SetReadCallback(tq.handleRead)
	// Always reading; the fd is disarmed with timerfd_settime, not by
	// dropping interest.
	tq.timerfdChannel.EnableReading()
	return tq
}

func (tq *timerQueue) close() {
	tq.timerfdChannel.DisableAll()
	tq.timerfdChannel.Remove()
	_ = closeFd(tq.timerfd)
}

// addTimer schedules cb at when, repeating every interval if interval > 0.
// Safe to call from any goroutine.
func (tq *timerQueue) addTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	t := newTimer(cb, when, interval)
	tq.loop.RunInLoop(func() { tq.addTimerInLoop(t) })
	return TimerID{timer: t, seq: t.seq}
}

// cancel drops the timer if it is still active. Safe to call from any
// goroutine, including from inside the timer's own callback.
func (tq *timerQueue) cancel(id TimerID) {
	tq.loop.RunInLoop(func() { tq.cancelInLoop(id) })
}

func (tq *timerQueue) addTimerInLoop(t *timer) {
	tq.loop.AssertInLoopGoroutine()
	if tq.insert(t) {
		resetTimerfd(tq.timerfd, t.expiration)
	}
}

func (tq *timerQueue) cancelInLoop(id TimerID) {
	tq.loop.AssertInLoopGoroutine()
	tq.assertIndexParity()
	if t, ok := tq.active[id.seq]; ok && t == id.timer {
		heap.Remove(&tq.timers, t.heapIndex)
		delete(tq.active, id.seq)
	} else if tq.callingExpired {
		// The entry already left both indices for this fire round; mark it
		// so reset() does not re-insert a periodic timer we just cancelled.
		tq.cancelingTimers[id.seq] = struct{}{}
	}
	tq.assertIndexParity()
}

func (tq *timerQueue) handleRead(now time.Time) {
	tq.loop.AssertInLoopGoroutine()
	readTimerfd(tq.timerfd, now)

	expired := tq.getExpired(now)

	tq.callingExpired = true
	tq.cancelingTimers = make(map[int64]struct{})
	for _, t := range expired {
		t.cb()
	}
	tq.callingExpired = false

	tq.reset(expired, now)
}

// getExpired moves every entry due at or before now out of both indices,
// in expiration order.
func (tq *timerQueue) getExpired(now time.Time) []*timer {
	tq.assertIndexParity()
	var expired []*timer
	for tq.timers.Len() > 0 && !tq.timers[0].expiration.After(now) {
		t := heap.Pop(&tq.timers).(*timer)
		delete(tq.active, t.seq)
		expired = append(expired, t)
	}
	tq.assertIndexParity()
	return expired
}

func (tq *timerQueue) reset(expired []*timer, now time.Time) {
	for _, t := range expired {
		if _, canceled := tq.cancelingTimers[t.seq]; t.repeat && !canceled {
			t.restart(now)
			tq.insert(t)
		}
	}
	if tq.timers.Len() > 0 {
		resetTimerfd(tq.timerfd, tq.timers[0].expiration)
	}
}

// insert places t into both indices and reports whether the earliest
// expiration changed.
func (tq *timerQueue) insert(t *timer) bool {
	tq.loop.AssertInLoopGoroutine()
	tq.assertIndexParity()
	earliestChanged := tq.timers.Len() == 0 || t.expiration.Before(tq.timers[0].expiration)
	heap.Push(&tq.timers, t)
	tq.active[t.seq] = t
	tq.assertIndexParity()
	return earliestChanged
}

func (tq *timerQueue) assertIndexParity() {
	if tq.timers.Len() != len(tq.active) {
		logging.L().Panic().
			Int("heap", tq.timers.Len()).
			Int("active", len(tq.active)).
			Msg("timer index sizes diverged")
	}
}
