// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"sync/atomic"
	"time"
)

// timerSeq issues process-wide unique sequence numbers. The sequence makes
// a TimerID unambiguous even if a timer entry's address is reused.
var timerSeq atomic.Int64

// timer is a single scheduled callback, one-shot or periodic.
type timer struct {
	cb         func()
	expiration time.Time
	interval   time.Duration
	repeat     bool
	seq        int64
	heapIndex  int
}

func newTimer(cb func(), when time.Time, interval time.Duration) *timer {
	return &timer{
		cb:         cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		seq:        timerSeq.Add(1),
		heapIndex:  -1,
	}
}

// restart recomputes the expiration from now rather than from the previous
// deadline, so a slow handler does not accumulate drift into a burst of
// immediate refires.
func (t *timer) restart(now time.Time) {
	t.expiration = now.Add(t.interval)
}

// TimerID identifies a scheduled timer for cancellation. The zero value is
// invalid.
type TimerID struct {
	timer *timer
	seq   int64
}
