package wsengine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Conn.
type State int

// States only move forward: Connecting, Open, Closing, Closed.
// Closing may be skipped.
const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Usage errors returned by Conn methods.
var (
	// ErrNotOpen is returned when sending on a connection that is not open.
	ErrNotOpen = errors.New("connection is not open")
	// ErrStreamInProgress is returned when a message is sent while a
	// binary stream started with BeginBinaryStream is still open.
	ErrStreamInProgress = errors.New("a binary stream is in progress")
	// ErrUnsupportedData is returned by Send for data that is neither
	// a string nor a []byte.
	ErrUnsupportedData = errors.New("unsupported data type")
)

// ErrMessageTooBig is wrapped by the error that closes a connection
// whose peer sent more than Options.MaxBufferLength bytes without
// completing a frame or handshake.
var ErrMessageTooBig = errors.New("message too big")

// Conn is the protocol engine of one WebSocket connection.
//
// A Conn does not read from its transport by itself. Bytes received are
// handed to Feed, usually by Run. Frames are written to the transport by
// the goroutine calling the sending method, after the connection state
// is unlocked, so a blocked write never stalls Feed.
//
// All methods are safe for concurrent use.
type Conn struct {
	role Role
	rwc  io.ReadWriteCloser
	h    Handler
	opts Options
	log  *zap.Logger

	closeTransportOnce sync.Once

	// writeFrameMu serializes transport writes.
	// It is never acquired while holding mu.
	writeFrameMu sync.Mutex

	mu     sync.Mutex
	state  State
	buf    bytes.Buffer
	events []func(h Handler)

	// writes holds encoded frames in send order until written.
	writes [][]byte
	// flushNeeded is set when the current holder of mu queued writes
	// or finished the connection.
	flushNeeded      bool
	closeAfterWrites bool
	writeErr         error

	key    string
	path   string
	header map[string]string

	// text accumulates a fragmented text message.
	text     *strings.Builder
	inbound  *InboundStream
	outbound *OutboundStream

	closeErr      *CloseError
	closeNotified bool
}

// NewConn returns a connection in StateConnecting acting as role over rwc.
//
// A server connection answers the handshake request fed to it.
// A client connection needs StartHandshake to be called first.
func NewConn(role Role, rwc io.ReadWriteCloser, h Handler, opts *Options) *Conn {
	if h == nil {
		h = HandlerFuncs{}
	}
	c := &Conn{
		role: role,
		rwc:  rwc,
		h:    h,
		opts: opts.withDefaults(),
	}
	c.log = c.opts.Logger.Named("wsengine").With(zap.Stringer("role", role))
	return c
}

// Role returns whether c is the client or the server.
func (c *Conn) Role() Role {
	return c.role
}

// State returns the current state of c.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Path returns the request target of the handshake.
func (c *Conn) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Header returns the headers of the handshake received from the peer,
// keyed by lower cased name. It is empty until the handshake succeeded.
func (c *Conn) Header() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := make(map[string]string, len(c.header))
	for k, v := range c.header {
		h[k] = v
	}
	return h
}

// Err returns the CloseError the connection closed with once it
// reached StateClosed and nil before.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed || c.closeErr == nil {
		return nil
	}
	return *c.closeErr
}

// unlock releases c.mu, writes the frames queued while it was held and
// then delivers the events queued meanwhile. It returns err or, if err
// is nil, the error writing the frames.
func (c *Conn) unlock(err error) error {
	flush := c.flushNeeded
	c.flushNeeded = false
	events := c.events
	c.events = nil
	c.mu.Unlock()

	if flush {
		more, ferr := c.flush()
		events = append(events, more...)
		if err == nil {
			err = ferr
		}
	}

	for _, ev := range events {
		ev(c.h)
	}
	return err
}

// flush writes queued frames until none are left and closes the
// transport once the connection finished. It returns the events
// caused by a failed write.
func (c *Conn) flush() ([]func(h Handler), error) {
	c.writeFrameMu.Lock()
	defer c.writeFrameMu.Unlock()

	for {
		c.mu.Lock()
		writes := c.writes
		c.writes = nil
		closeTransport := c.closeAfterWrites
		err := c.writeErr
		c.mu.Unlock()

		if len(writes) == 0 {
			if closeTransport {
				c.closeTransport()
			}
			return nil, err
		}

		for _, b := range writes {
			_, err = c.rwc.Write(b)
			if err != nil {
				err = fmt.Errorf("failed to write to transport: %w", err)
				return c.writeFailed(err), err
			}
		}
	}
}

func (c *Conn) writeFailed(err error) []func(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes = nil
	if c.writeErr == nil {
		c.writeErr = err
	}
	if c.state == StateClosed {
		c.log.Debug("failed to write before closing", zap.Error(err))
		c.closeTransport()
	} else {
		c.fail(err)
	}
	c.flushNeeded = false
	events := c.events
	c.events = nil
	return events
}

func (c *Conn) emit(ev func(h Handler)) {
	c.events = append(c.events, ev)
}

// Feed processes bytes received from the transport.
//
// A non nil error means the bytes broke the protocol and the connection
// is now closed. The error has already been reported to the Handler.
func (c *Conn) Feed(p []byte) error {
	c.mu.Lock()
	defer c.unlock(nil)

	if c.state == StateClosed {
		return nil
	}
	c.buf.Write(p)

	if c.state == StateConnecting {
		done, err := c.readHandshake()
		if err != nil {
			c.rejectHandshake(err)
			return err
		}
		if !done {
			return nil
		}
	}
	return c.readFrames()
}

func (c *Conn) readFrames() error {
	for c.state == StateOpen || c.state == StateClosing {
		f, n, err := DecodeFrame(c.buf.Bytes(), c.role)
		if err != nil {
			c.abort(StatusProtocolError, err)
			return err
		}
		if n == 0 {
			break
		}
		c.buf.Next(n)

		err = c.dispatch(f)
		if err != nil {
			code := StatusProtocolError
			if errors.Is(err, ErrMessageTooBig) {
				code = StatusMessageTooBig
			}
			c.abort(code, err)
			return err
		}
	}
	if c.state == StateClosed {
		return nil
	}

	max := c.opts.MaxBufferLength
	h, hn, _ := decodeHeader(c.buf.Bytes(), c.role)
	if c.buf.Len() > max || (hn > 0 && uint64(hn)+h.payloadLength > uint64(max)) {
		err := fmt.Errorf("%w: incomplete frame exceeds %v bytes", ErrMessageTooBig, max)
		c.abort(StatusMessageTooBig, err)
		return err
	}
	return nil
}

func (c *Conn) dispatch(f Frame) error {
	switch f.Opcode {
	case OpClose:
		c.handleClose(f.Payload)
		return nil
	case OpPing:
		if c.state == StateOpen {
			_ = c.writeFrame(OpPong, f.Payload, true)
		}
		return nil
	case OpPong:
		p := f.Payload
		c.emit(func(h Handler) {
			h.OnPong(c, p)
		})
		return nil
	}

	if c.state != StateOpen {
		c.log.Debug("ignoring data frame while closing", zap.Stringer("opcode", f.Opcode))
		return nil
	}

	inMessage := c.text != nil || c.inbound != nil
	if f.Opcode == OpContinuation && !inMessage {
		return protocolError("received continuation frame without a message to continue")
	}
	if f.Opcode != OpContinuation && inMessage {
		return protocolError("received new %v message before the previous message was finished", f.Opcode)
	}

	if f.Opcode == OpText || c.text != nil {
		if c.text == nil {
			c.text = &strings.Builder{}
		}
		c.text.Write(f.Payload)
		if c.text.Len() > c.opts.MaxBufferLength {
			return fmt.Errorf("%w: text message exceeds %v bytes", ErrMessageTooBig, c.opts.MaxBufferLength)
		}
		if f.Fin {
			s := c.text.String()
			c.text = nil
			c.emit(func(h Handler) {
				h.OnText(c, s)
			})
		}
		return nil
	}

	s := c.inbound
	if s == nil {
		s = newInboundStream(c.opts.MaxBufferLength)
		c.inbound = s
		c.emit(func(h Handler) {
			h.OnBinary(c, s)
		})
	}
	s.push(f.Payload)
	if f.Fin {
		s.end(io.EOF)
		c.inbound = nil
	}
	return nil
}

func (c *Conn) handleClose(p []byte) {
	switch c.state {
	case StateOpen:
		ce := parseClosePayload(p)
		c.log.Debug("received close frame", zap.Stringer("code", ce.Code), zap.String("reason", ce.Reason))
		// Echo the code only.
		_ = c.writeClose(CloseError{Code: ce.Code})
		c.finish(ce)
	case StateClosing:
		c.log.Debug("close handshake complete")
		c.finish(CloseError{Code: StatusNoStatusRcvd})
	}
}

// rejectHandshake fails a connection whose handshake could not be
// completed.
func (c *Conn) rejectHandshake(err error) {
	c.log.Info("rejecting handshake", zap.Error(err))
	if c.role == RoleServer {
		c.queue([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
	}
	c.emit(func(h Handler) {
		h.OnError(c, err)
	})
	c.finish(CloseError{Code: StatusAbnormalClosure})
}

// abort closes the connection immediately after telling the peer why.
func (c *Conn) abort(code StatusCode, err error) {
	c.log.Info("closing connection", zap.Stringer("code", code), zap.Error(err))
	if c.state == StateOpen {
		_ = c.writeClose(CloseError{Code: code})
	}
	c.finish(CloseError{Code: code})
}

// fail closes the connection after the transport returned err.
func (c *Conn) fail(err error) {
	c.log.Info("transport failed", zap.Error(err))
	c.emit(func(h Handler) {
		h.OnError(c, err)
	})
	c.finish(CloseError{Code: StatusAbnormalClosure})
}

// finish moves c to StateClosed. ce is reported unless a close was
// reported before. The transport is closed once queued frames are
// written.
func (c *Conn) finish(ce CloseError) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if len(c.writes) == 0 {
		c.closeTransport()
	} else {
		c.closeAfterWrites = true
		c.flushNeeded = true
	}
	c.teardownStreams()
	c.notifyClose(ce)
}

func (c *Conn) notifyClose(ce CloseError) {
	if c.closeErr == nil {
		c.closeErr = &ce
	}
	if c.closeNotified {
		return
	}
	c.closeNotified = true
	c.emit(func(h Handler) {
		h.OnClose(c, ce.Code, ce.Reason)
	})
}

// teardownStreams ends the inbound message and the outbound stream.
// Messages still being received are cut short.
func (c *Conn) teardownStreams() {
	c.text = nil
	if c.inbound != nil {
		c.inbound.end(io.ErrUnexpectedEOF)
		c.inbound = nil
	}
	if c.outbound != nil {
		c.outbound.finish()
		c.outbound = nil
	}
}

func (c *Conn) closeTransport() {
	c.closeTransportOnce.Do(func() {
		err := c.rwc.Close()
		if err != nil {
			c.log.Debug("failed to close transport", zap.Error(err))
		}
	})
}

// TransportClosed tells c that its transport is gone.
// A connection that was not closing reports StatusAbnormalClosure.
func (c *Conn) TransportClosed() {
	c.mu.Lock()
	defer c.unlock(nil)

	c.finish(CloseError{Code: StatusAbnormalClosure})
}

// writeFrame queues a single frame. It is written by unlock and a
// transport error closes the connection.
func (c *Conn) writeFrame(op Opcode, p []byte, fin bool) error {
	b, err := EncodeFrame(op, p, c.role, fin)
	if err != nil {
		return err
	}
	c.queue(b)
	return nil
}

func (c *Conn) queue(b []byte) {
	c.writes = append(c.writes, b)
	c.flushNeeded = true
}

func (c *Conn) writeClose(ce CloseError) error {
	p, err := ce.bytes()
	if err != nil {
		return err
	}
	return c.writeFrame(OpClose, p, true)
}
