// File: buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streaming byte buffer used on both sides of a connection. The backing
// slice is split into three regions by two cursors:
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      readIndex   <=     writeIndex    <=     cap
//
// Appends advance writeIndex, reads advance readIndex, and the slack in
// front of readIndex lets a length header be prepended without moving the
// payload.

package buffer

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/pool"
)

const (
	// CheapPrepend is the reserved slack kept in front of the payload.
	CheapPrepend = 8
	// InitialSize is the writable capacity a fresh buffer starts with.
	InitialSize = 1024
)

// scratch supplies the spill slice for ReadFd. One readv on a fresh buffer
// can then drain InitialSize+64KiB without growing the buffer up front.
var scratch = pool.NewBytePool(64 * 1024)

// Buffer is an append-only write / consume-forward read byte buffer.
// It is not safe for concurrent use; each instance belongs to one loop.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// New creates a Buffer with the default initial capacity.
func New() *Buffer {
	return NewWithSize(InitialSize)
}

// NewWithSize creates a Buffer with the given initial writable capacity.
func NewWithSize(size int) *Buffer {
	return &Buffer{
		buf:        make([]byte, CheapPrepend+size),
		readIndex:  CheapPrepend,
		writeIndex: CheapPrepend,
	}
}

// ReadableBytes returns the number of unconsumed payload bytes.
func (b *Buffer) ReadableBytes() int { return b.writeIndex - b.readIndex }

// WritableBytes returns the space left after the payload.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIndex }

// PrependableBytes returns the slack in front of the payload.
func (b *Buffer) PrependableBytes() int { return b.readIndex }

// Peek returns the readable region without consuming it. The slice aliases
// the buffer and is invalidated by the next mutation.
func (b *Buffer) Peek() []byte { return b.buf[b.readIndex:b.writeIndex] }

// FindEOL returns the index relative to Peek() of the first '\n', or -1.
func (b *Buffer) FindEOL() int { return bytes.IndexByte(b.Peek(), '\n') }

// Retrieve consumes n readable bytes. Consuming everything resets the
// cursors to the prepend baseline.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes the whole payload and resets both cursors.
func (b *Buffer) RetrieveAll() {
	b.readIndex = CheapPrepend
	b.writeIndex = CheapPrepend
}

// RetrieveAsString consumes n bytes and returns them as a string.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readIndex : b.readIndex+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString consumes the whole payload and returns it as a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append copies data after the current payload, growing if needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writeIndex:], data)
	b.writeIndex += len(data)
}

// AppendString copies a string after the current payload.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	copy(b.buf[b.writeIndex:], s)
	b.writeIndex += len(s)
}

// Prepend copies data into the slack in front of the payload and moves
// readIndex back over it. Callers must not exceed PrependableBytes.
func (b *Buffer) Prepend(data []byte) {
	b.readIndex -= len(data)
	copy(b.buf[b.readIndex:], data)
}

// EnsureWritable guarantees at least n contiguous writable bytes, first by
// compacting the payload against the prepend baseline, then by growing.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		b.buf = append(b.buf, make([]byte, b.writeIndex+n-len(b.buf))...)
		return
	}
	// Enough total slack: shift the payload left instead of growing.
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readIndex:b.writeIndex])
	b.readIndex = CheapPrepend
	b.writeIndex = b.readIndex + readable
}

// Capacity returns the size of the backing slice.
func (b *Buffer) Capacity() int { return len(b.buf) }

// ReadFd drains the descriptor with one vectored read: the first iovec is
// the writable region, the second a pooled 64KiB scratch slice. Messages
// that fit the writable region cost nothing extra; any spill into scratch
// is appended afterwards, growing the buffer to match the traffic.
// Returns the byte count and the errno from readv (0 on success).
func (b *Buffer) ReadFd(fd int) (int, unix.Errno) {
	spill := scratch.Get()
	defer scratch.Put(spill)

	writable := b.WritableBytes()
	iovs := [2][]byte{b.buf[b.writeIndex:], spill}
	n, err := unix.Readv(fd, iovs[:])
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return -1, errno
		}
		return -1, unix.EIO
	}
	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex = len(b.buf)
		b.Append(spill[:n-writable])
	}
	return n, 0
}
