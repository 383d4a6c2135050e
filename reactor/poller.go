// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "time"

// Poller-private channel registration states, kept in Channel.index.
const (
	pollerNew     = -1 // never registered
	pollerAdded   = 1  // live in the kernel interest set
	pollerDeleted = 2  // known but currently disabled
)

// Poller abstracts the readiness primitive underneath an EventLoop. All
// methods must run on the owner loop's goroutine. Any multiplexer with
// poll(2)-equivalent semantics can sit behind this interface.
type Poller interface {
	// Poll blocks up to timeoutMs, appends every ready channel to active
	// after stamping its observed readiness, and returns the post-wake
	// timestamp.
	Poll(timeoutMs int, active *[]*Channel) time.Time

	// UpdateChannel adds or modifies the kernel registration for c.
	UpdateChannel(c *Channel)

	// RemoveChannel drops c from the poller. c's interest set must be empty.
	RemoveChannel(c *Channel)

	// HasChannel reports whether c is known to this poller.
	HasChannel(c *Channel) bool

	// Close releases the multiplexer.
	Close() error
}

// NewDefaultPoller returns the preferred poller for the platform.
func NewDefaultPoller(loop *EventLoop) Poller {
	return newPlatformPoller(loop)
}
