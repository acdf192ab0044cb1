package wstest

import (
	"context"
	"net"

	"nhooyr.io/wsengine"
	"nhooyr.io/wsengine/internal/errd"
)

// Pipe returns a client connection and the server connection it dialed
// over loopback TCP. Both are open and run until ctx is cancelled.
func Pipe(ctx context.Context, client, server wsengine.Handler, opts *wsengine.Options) (_ *wsengine.Conn, _ *wsengine.Conn, err error) {
	defer errd.Wrap(&err, "failed to create ws pipe")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer l.Close()

	if server == nil {
		server = wsengine.HandlerFuncs{}
	}
	connected := make(chan struct{})
	sh := &connectHandler{Handler: server, connected: connected}

	accepted := make(chan *wsengine.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		c := wsengine.NewConn(wsengine.RoleServer, nc, sh, opts)
		accepted <- c
		c.Run(ctx)
	}()

	cc, err := wsengine.Dial(ctx, "ws://"+l.Addr().String()+"/", client, &wsengine.DialOptions{
		Options: opts,
	})
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		cc.Close(wsengine.StatusGoingAway, "")
	}()

	var sc *wsengine.Conn
	select {
	case sc = <-accepted:
	case err := <-acceptErr:
		return nil, nil, err
	}
	select {
	case <-connected:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return cc, sc, nil
}

type connectHandler struct {
	wsengine.Handler
	connected chan struct{}
}

func (h *connectHandler) OnConnect(c *wsengine.Conn) {
	h.Handler.OnConnect(c)
	close(h.connected)
}
