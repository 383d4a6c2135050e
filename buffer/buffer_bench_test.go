// File: buffer/buffer_bench_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer_test

import (
	"testing"

	"github.com/momentics/hioload-net/buffer"
)

func BenchmarkAppendRetrieve(b *testing.B) {
	payload := make([]byte, 1024)
	buf := buffer.New()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(payload)
		buf.Retrieve(len(payload))
	}
}

func BenchmarkAppendGrow(b *testing.B) {
	payload := make([]byte, 4096)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := buffer.New()
		for j := 0; j < 8; j++ {
			buf.Append(payload)
		}
	}
}
