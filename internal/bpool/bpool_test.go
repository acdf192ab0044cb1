package bpool

import (
	"testing"

	"nhooyr.io/wsengine/internal/test/assert"
)

func TestPool(t *testing.T) {
	t.Parallel()

	b := Get()
	b.WriteString("hello")
	Put(b)

	b = Get()
	assert.Equal(t, "len", 0, b.Len())
	Put(b)
}

func BenchmarkPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := Get()
		buf.Write(make([]byte, 512))
		Put(buf)
	}
}
