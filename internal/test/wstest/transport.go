// Package wstest contains helpers to drive connections in tests.
package wstest

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"nhooyr.io/wsengine"
	"nhooyr.io/wsengine/internal/test/assert"
)

// Transport is an in memory transport recording what a connection
// writes. Reads report io.EOF, bytes are handed to Conn.Feed instead.
type Transport struct {
	mu       sync.Mutex
	written  bytes.Buffer
	closed   bool
	writeErr error
}

var _ io.ReadWriteCloser = &Transport{}

func (t *Transport) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeErr != nil {
		return 0, t.writeErr
	}
	return t.written.Write(p)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// FailWrites makes every later Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Take returns and forgets the bytes written so far.
func (t *Transport) Take() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := append([]byte(nil), t.written.Bytes()...)
	t.written.Reset()
	return b
}

// Frames decodes and forgets the frames written so far as received
// by receiver.
func (t *Transport) Frames(tb testing.TB, receiver wsengine.Role) []wsengine.Frame {
	tb.Helper()

	b := t.Take()
	var frames []wsengine.Frame
	for len(b) > 0 {
		f, n, err := wsengine.DecodeFrame(b, receiver)
		assert.Success(tb, err)
		if n == 0 {
			tb.Fatalf("incomplete frame written: %x", b)
		}
		// Mask keys are random.
		f.MaskKey = [4]byte{}
		frames = append(frames, f)
		b = b[n:]
	}
	return frames
}

// Frame encodes a frame as sent by sender.
func Frame(tb testing.TB, sender wsengine.Role, op wsengine.Opcode, p []byte, fin bool) []byte {
	tb.Helper()

	b, err := wsengine.EncodeFrame(op, p, sender, fin)
	assert.Success(tb, err)
	return b
}
