package wsengine

import (
	"fmt"

	"go.uber.org/zap"
)

// SendText sends s as a single text frame.
func (c *Conn) SendText(s string) error {
	c.mu.Lock()
	err := c.checkSend()
	if err == nil {
		err = c.writeFrame(OpText, []byte(s), true)
	}
	return c.unlock(err)
}

// SendBinary sends p as a single binary frame.
func (c *Conn) SendBinary(p []byte) error {
	c.mu.Lock()
	err := c.checkSend()
	if err == nil {
		err = c.writeFrame(OpBinary, p, true)
	}
	return c.unlock(err)
}

// Send sends v as a text message if it is a string and as a binary
// message if it is a []byte.
func (c *Conn) Send(v interface{}) error {
	switch v := v.(type) {
	case string:
		return c.SendText(v)
	case []byte:
		return c.SendBinary(v)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedData, v)
	}
}

// SendPing sends a ping frame with payload p of at most 125 bytes.
// It may be sent while a binary stream is in progress.
func (c *Conn) SendPing(p []byte) error {
	c.mu.Lock()
	err := ErrNotOpen
	if c.state == StateOpen {
		err = c.writeFrame(OpPing, p, true)
	}
	return c.unlock(err)
}

// BeginBinaryStream starts a binary message whose bytes are written to
// the returned stream. No other message can be sent until it is closed.
func (c *Conn) BeginBinaryStream() (*OutboundStream, error) {
	c.mu.Lock()
	defer c.unlock(nil)

	if err := c.checkSend(); err != nil {
		return nil, err
	}
	c.outbound = newOutboundStream(c)
	return c.outbound, nil
}

func (c *Conn) checkSend() error {
	if c.state != StateOpen {
		return ErrNotOpen
	}
	if c.outbound != nil {
		return ErrStreamInProgress
	}
	return nil
}

// Close starts the close handshake with the given status code and reason.
// The close is reported to the Handler right away and the connection
// moves to StateClosing until the peer answers.
//
// Closing a connection that is not open shuts its transport down.
//
// StatusNoStatusRcvd sends a close frame without a status.
// Other codes must be sendable and the reason must fit in 123 bytes.
func (c *Conn) Close(code StatusCode, reason string) error {
	c.mu.Lock()
	err := c.close(code, reason)
	return c.unlock(err)
}

func (c *Conn) close(code StatusCode, reason string) error {
	ce := CloseError{
		Code:   code,
		Reason: reason,
	}

	switch c.state {
	case StateOpen:
		if code != StatusNoStatusRcvd && !validWireCloseCode(code) {
			return fmt.Errorf("status code %v cannot be set", code)
		}
		p, err := ce.bytes()
		if err != nil {
			return err
		}
		c.log.Debug("closing", zap.Stringer("code", code), zap.String("reason", reason))
		err = c.writeFrame(OpClose, p, true)
		if err != nil {
			return err
		}
		c.state = StateClosing
		c.teardownStreams()
		c.notifyClose(ce)
	default:
		c.notifyClose(ce)
		c.finish(ce)
	}
	return nil
}
