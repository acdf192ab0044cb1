package wsengine

import (
	"testing"

	"nhooyr.io/wsengine/internal/test/assert"
)

// Not parallel, the defaults are process wide.
func TestOptionsDefaults(t *testing.T) {
	defer SetDefaultFragmentSize(0)
	defer SetDefaultMaxBufferLength(0)

	opts := (*Options)(nil).withDefaults()
	assert.Equal(t, "fragment size", DefaultFragmentSize, opts.FragmentSize)
	assert.Equal(t, "max buffer length", DefaultMaxBufferLength, opts.MaxBufferLength)
	if opts.Logger == nil {
		t.Fatal("expected a logger")
	}

	SetDefaultFragmentSize(1024)
	SetDefaultMaxBufferLength(4096)
	opts = (&Options{}).withDefaults()
	assert.Equal(t, "fragment size", 1024, opts.FragmentSize)
	assert.Equal(t, "max buffer length", 4096, opts.MaxBufferLength)

	opts = (&Options{FragmentSize: 10, MaxBufferLength: 20}).withDefaults()
	assert.Equal(t, "fragment size", 10, opts.FragmentSize)
	assert.Equal(t, "max buffer length", 20, opts.MaxBufferLength)

	SetDefaultFragmentSize(-1)
	opts = (&Options{}).withDefaults()
	assert.Equal(t, "fragment size", DefaultFragmentSize, opts.FragmentSize)
}
