// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

// BytePool hands out fixed-size byte slices, recycling them through a
// sync.Pool. The reactor read path borrows a scratch slice per readv call,
// so the pool keeps steady-state allocation flat regardless of the number
// of connections.
type BytePool struct {
	size int
	p    sync.Pool
}

// NewBytePool creates a pool of slices of the given size.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.p.New = func() any {
		return make([]byte, size)
	}
	return bp
}

// Size returns the length of slices handed out by Get.
func (b *BytePool) Size() int { return b.size }

// Get returns a slice of exactly Size() bytes. Contents are undefined.
func (b *BytePool) Get() []byte {
	return b.p.Get().([]byte)
}

// Put returns a slice to the pool. Slices of foreign capacity are dropped.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.p.Put(buf[:b.size])
}
