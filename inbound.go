package wsengine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/eapache/queue"
)

// ErrStreamClosed is returned when using a stream after Close.
var ErrStreamClosed = errors.New("stream closed")

// InboundStream is the body of a binary message being received.
//
// Read returns io.EOF once the whole message was read and
// io.ErrUnexpectedEOF if the connection closed before the message
// was complete. A single goroutine may Read at a time.
type InboundStream struct {
	mu        sync.Mutex
	chunks    *queue.Queue
	cur       []byte
	buffered  int
	highWater int
	done      error
	closed    bool

	readable chan struct{}
	drained  chan struct{}
}

var _ io.ReadCloser = &InboundStream{}

func newInboundStream(highWater int) *InboundStream {
	return &InboundStream{
		chunks:    queue.New(),
		highWater: highWater,
		readable:  make(chan struct{}, 1),
		drained:   make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Read reads message bytes into p, blocking until some arrive.
func (s *InboundStream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if len(s.cur) == 0 && s.chunks.Length() > 0 {
			s.cur = s.chunks.Remove().([]byte)
		}
		if len(s.cur) > 0 {
			n := copy(p, s.cur)
			s.cur = s.cur[n:]
			s.buffered -= n
			s.mu.Unlock()
			signal(s.drained)
			return n, nil
		}
		if s.closed {
			s.mu.Unlock()
			return 0, ErrStreamClosed
		}
		if s.done != nil {
			err := s.done
			s.mu.Unlock()
			return 0, err
		}
		s.mu.Unlock()

		<-s.readable
	}
}

// Close discards the rest of the message.
func (s *InboundStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cur = nil
	for s.chunks.Length() > 0 {
		s.chunks.Remove()
	}
	s.buffered = 0
	s.mu.Unlock()

	signal(s.readable)
	signal(s.drained)
	return nil
}

// Buffered returns the number of received bytes not read yet.
func (s *InboundStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *InboundStream) push(p []byte) {
	if len(p) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed || s.done != nil {
		s.mu.Unlock()
		return
	}
	s.chunks.Add(p)
	s.buffered += len(p)
	s.mu.Unlock()

	signal(s.readable)
}

// end marks the message complete. Readers see err after the bytes
// already received.
func (s *InboundStream) end(err error) {
	s.mu.Lock()
	if s.done == nil {
		s.done = err
	}
	s.mu.Unlock()

	signal(s.readable)
	signal(s.drained)
}

// waitDrained blocks while more than the high water mark of bytes
// are unread.
func (s *InboundStream) waitDrained(ctx context.Context) error {
	for {
		s.mu.Lock()
		ok := s.buffered <= s.highWater || s.closed || s.done != nil
		s.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-s.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
