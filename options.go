package wsengine

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Built in defaults for Options.
const (
	// DefaultFragmentSize is the number of bytes an OutboundStream
	// buffers before it writes them out as one frame.
	DefaultFragmentSize = 512 << 10
	// DefaultMaxBufferLength is the number of received bytes a
	// connection holds while waiting for a frame to complete.
	DefaultMaxBufferLength = 2 << 20
)

var (
	defaultFragmentSize    atomic.Int64
	defaultMaxBufferLength atomic.Int64
)

func init() {
	defaultFragmentSize.Store(DefaultFragmentSize)
	defaultMaxBufferLength.Store(DefaultMaxBufferLength)
}

// SetDefaultFragmentSize changes the fragment size of connections
// created afterwards without an explicit Options.FragmentSize.
// A value <= 0 restores DefaultFragmentSize.
//
// Call it during process start up, before any connection exists.
func SetDefaultFragmentSize(n int) {
	if n <= 0 {
		n = DefaultFragmentSize
	}
	defaultFragmentSize.Store(int64(n))
}

// SetDefaultMaxBufferLength changes the buffer limit of connections
// created afterwards without an explicit Options.MaxBufferLength.
// A value <= 0 restores DefaultMaxBufferLength.
//
// Call it during process start up, before any connection exists.
func SetDefaultMaxBufferLength(n int) {
	if n <= 0 {
		n = DefaultMaxBufferLength
	}
	defaultMaxBufferLength.Store(int64(n))
}

// Options configures a connection.
// The zero value uses the process wide defaults.
type Options struct {
	// FragmentSize is the number of bytes an OutboundStream buffers
	// before writing them as a frame.
	FragmentSize int

	// MaxBufferLength bounds the bytes held for an incomplete handshake
	// or frame and the unread bytes of an InboundStream before reading
	// from the transport pauses. A peer exceeding it is disconnected
	// with StatusMessageTooBig.
	MaxBufferLength int

	// Logger receives the connection's diagnostics.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = int(defaultFragmentSize.Load())
	}
	if opts.MaxBufferLength <= 0 {
		opts.MaxBufferLength = int(defaultMaxBufferLength.Load())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}
