package wsengine

import (
	"context"
	"errors"
	"io"

	"nhooyr.io/wsengine/internal/errd"
)

const readBufferSize = 32 << 10

// Run reads from the transport and feeds c until the connection closes.
// Reading pauses while the binary message being received holds more
// than Options.MaxBufferLength unread bytes.
//
// Cancelling ctx shuts the transport down. Run returns nil once the
// connection closed cleanly, the error that broke the protocol or the
// transport error otherwise.
func (c *Conn) Run(ctx context.Context) (err error) {
	defer errd.Wrap(&err, "failed to run connection")

	stop := context.AfterFunc(ctx, c.closeTransport)
	defer stop()

	b := make([]byte, readBufferSize)
	for {
		err = c.waitInbound(ctx)
		if err != nil {
			c.TransportClosed()
			return err
		}

		n, rerr := c.rwc.Read(b)
		if n > 0 {
			err = c.Feed(b[:n])
			if err != nil {
				return err
			}
		}
		if c.State() == StateClosed {
			return nil
		}
		if rerr != nil {
			c.TransportClosed()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

func (c *Conn) waitInbound(ctx context.Context) error {
	c.mu.Lock()
	s := c.inbound
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.waitDrained(ctx)
}
