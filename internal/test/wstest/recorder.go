package wstest

import (
	"io"
	"testing"
	"time"

	"nhooyr.io/wsengine"
)

// Close is a recorded OnClose event.
type Close struct {
	Code   wsengine.StatusCode
	Reason string
}

// Binary is a binary message read to its end.
type Binary struct {
	Data []byte
	Err  error
}

// Recorder is a Handler sending every event to a channel.
// Binary messages are read to their end on their own goroutine.
type Recorder struct {
	Connected chan *wsengine.Conn
	Texts     chan string
	Binaries  chan Binary
	Pongs     chan []byte
	Closes    chan Close
	Errors    chan error
}

var _ wsengine.Handler = &Recorder{}

// NewRecorder returns a Recorder buffering up to 128 events of each kind.
func NewRecorder() *Recorder {
	const n = 128
	return &Recorder{
		Connected: make(chan *wsengine.Conn, n),
		Texts:     make(chan string, n),
		Binaries:  make(chan Binary, n),
		Pongs:     make(chan []byte, n),
		Closes:    make(chan Close, n),
		Errors:    make(chan error, n),
	}
}

func (r *Recorder) OnConnect(c *wsengine.Conn) {
	r.Connected <- c
}

func (r *Recorder) OnText(c *wsengine.Conn, s string) {
	r.Texts <- s
}

func (r *Recorder) OnBinary(c *wsengine.Conn, s *wsengine.InboundStream) {
	go func() {
		b, err := io.ReadAll(s)
		r.Binaries <- Binary{Data: b, Err: err}
	}()
}

func (r *Recorder) OnPong(c *wsengine.Conn, p []byte) {
	r.Pongs <- p
}

func (r *Recorder) OnClose(c *wsengine.Conn, code wsengine.StatusCode, reason string) {
	r.Closes <- Close{Code: code, Reason: reason}
}

func (r *Recorder) OnError(c *wsengine.Conn, err error) {
	r.Errors <- err
}

// Next waits up to 5 seconds for a value from ch.
func Next[T any](tb testing.TB, ch <-chan T) T {
	tb.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

// None asserts nothing is waiting in ch.
func None[T any](tb testing.TB, ch <-chan T) {
	tb.Helper()

	select {
	case v := <-ch:
		tb.Fatalf("unexpected event: %v", v)
	default:
	}
}
