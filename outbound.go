package wsengine

import (
	"bytes"
	"io"

	"nhooyr.io/wsengine/internal/bpool"
)

// OutboundStream writes a binary message as a sequence of frames.
// Every Options.FragmentSize bytes written are sent as one frame and
// Close sends the remainder as the final frame.
//
// Writes made while the connection is not open are dropped.
type OutboundStream struct {
	c *Conn

	// All fields are guarded by c.mu.
	buf    *bytes.Buffer
	sent   bool
	closed bool
	// finished is set when the connection stops accepting the stream.
	finished bool
}

var _ io.WriteCloser = &OutboundStream{}

func newOutboundStream(c *Conn) *OutboundStream {
	return &OutboundStream{
		c:   c,
		buf: bpool.Get(),
	}
}

// Write buffers p and sends full fragments.
func (s *OutboundStream) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	n, err := s.write(p)
	err = s.c.unlock(err)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *OutboundStream) write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.finished || s.c.state != StateOpen {
		return len(p), nil
	}

	s.buf.Write(p)
	for s.buf.Len() >= s.c.opts.FragmentSize {
		err := s.flush(s.buf.Next(s.c.opts.FragmentSize), false)
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close sends the final frame of the message and lets the connection
// send other messages again.
func (s *OutboundStream) Close() error {
	s.c.mu.Lock()
	err := s.close()
	return s.c.unlock(err)
}

func (s *OutboundStream) close() error {
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	defer s.release()

	if s.finished || s.c.state != StateOpen {
		return nil
	}
	if s.c.outbound == s {
		s.c.outbound = nil
	}
	return s.flush(s.buf.Bytes(), true)
}

func (s *OutboundStream) flush(p []byte, fin bool) error {
	op := OpBinary
	if s.sent {
		op = OpContinuation
	}
	s.sent = true
	return s.c.writeFrame(op, p, fin)
}

func (s *OutboundStream) finish() {
	s.finished = true
	s.release()
}

func (s *OutboundStream) release() {
	if s.buf != nil {
		bpool.Put(s.buf)
		s.buf = nil
	}
}
