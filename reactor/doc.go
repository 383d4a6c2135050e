// Copyright (c) 2026
// Author: momentics <momentics@gmail.com>

// Package reactor implements the per-thread event loop core: channels
// binding file descriptors to readiness callbacks, the epoll-backed poller,
// the timer queue, and the loop-thread pool used to compose multi-reactor
// servers. Every resource owned by an EventLoop may only be touched from
// the goroutine running that loop; cross-goroutine work is funnelled
// through RunInLoop/QueueInLoop and an eventfd wake-up.
package reactor
