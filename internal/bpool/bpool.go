// Package bpool pools the buffers used to accumulate outbound stream data.
package bpool

import (
	"bytes"
	"sync"
)

// maxPooled bounds the capacity of buffers kept for reuse so that
// one very large stream does not pin its memory forever.
const maxPooled = 4 << 20

var bpool sync.Pool

// Get returns a buffer from the pool or creates a new one if
// the pool is empty.
func Get() *bytes.Buffer {
	b, ok := bpool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
	}
	return b
}

// Put returns a buffer into the pool.
// Buffers that grew beyond maxPooled are dropped.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooled {
		return
	}
	b.Reset()
	bpool.Put(b)
}
