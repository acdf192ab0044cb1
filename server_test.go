package wsengine_test

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"nhooyr.io/wsengine"
	"nhooyr.io/wsengine/internal/test/assert"
	"nhooyr.io/wsengine/internal/test/wstest"
)

func TestServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)

	serverRec := wstest.NewRecorder()
	s := &wsengine.Server{
		Handler: serverRec,
		Options: &wsengine.Options{
			Logger: zaptest.NewLogger(t),
		},
		ShutdownTimeout: 5 * time.Second,
	}
	serveCtx, stop := context.WithCancel(ctx)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(serveCtx, l)
	}()

	u := "ws://" + l.Addr().String() + "/room"
	recs := make([]*wstest.Recorder, 3)
	conns := make([]*wsengine.Conn, 3)
	for i := range conns {
		recs[i] = wstest.NewRecorder()
		conns[i], err = wsengine.Dial(ctx, u, recs[i], nil)
		assert.Success(t, err)
		wstest.Next(t, recs[i].Connected)
	}
	for range conns {
		c := wstest.Next(t, serverRec.Connected)
		assert.Equal(t, "path", "/room", c.Path())
	}
	assert.Equal(t, "connections", 3, len(s.Connections()))

	assert.Success(t, conns[0].Close(wsengine.StatusNormalClosure, ""))
	assert.Equal(t, "close", wstest.Close{Code: wsengine.StatusNormalClosure}, wstest.Next(t, serverRec.Closes))
	assert.Equal(t, "connections", 2, len(s.Connections()))

	stop()
	assert.Success(t, wstest.Next(t, serveErr))

	for _, rec := range recs[1:] {
		assert.Equal(t, "close", wstest.Close{Code: wsengine.StatusGoingAway, Reason: "server shutting down"}, wstest.Next(t, rec.Closes))
	}
	assert.Equal(t, "connections", 0, len(s.Connections()))

	_, err = wsengine.Dial(ctx, u, nil, nil)
	assert.Error(t, err)
}

func TestServerMaxConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)

	s := &wsengine.Server{
		MaxConnections: 1,
	}
	serveCtx, stop := context.WithCancel(ctx)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(serveCtx, l)
	}()

	u := "ws://" + l.Addr().String()
	first, err := wsengine.Dial(ctx, u, nil, nil)
	assert.Success(t, err)

	// The second handshake is only answered once the first
	// connection is gone.
	dialCtx, dialCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer dialCancel()
	_, err = wsengine.Dial(dialCtx, u, nil, nil)
	assert.ErrorIs(t, context.DeadlineExceeded, err)

	assert.Success(t, first.Close(wsengine.StatusNormalClosure, ""))
	waitState(t, first, wsengine.StateClosed)

	second, err := wsengine.Dial(ctx, u, nil, nil)
	assert.Success(t, err)
	assert.Equal(t, "state", wsengine.StateOpen, second.State())

	stop()
	assert.Success(t, wstest.Next(t, serveErr))
}

func TestDial(t *testing.T) {
	t.Parallel()

	t.Run("badURL", func(t *testing.T) {
		t.Parallel()

		_, err := wsengine.Dial(context.Background(), "ftp://example.com", nil, nil)
		assert.Contains(t, err, "unexpected url scheme")
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		l, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Success(t, err)
		defer l.Close()

		go func() {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			defer nc.Close()
			// Read the request before answering.
			r := bufio.NewReader(nc)
			http.ReadRequest(r)
			nc.Write([]byte("HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n"))
		}()

		rec := wstest.NewRecorder()
		_, err = wsengine.Dial(ctx, "ws://"+l.Addr().String(), rec, nil)
		assert.ErrorIs(t, wsengine.ErrHandshake, err)
		assert.ErrorIs(t, wsengine.ErrHandshake, wstest.Next(t, rec.Errors))
		assert.Equal(t, "close", wstest.Close{Code: wsengine.StatusAbnormalClosure}, wstest.Next(t, rec.Closes))
		wstest.None(t, rec.Connected)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		l, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Success(t, err)
		defer l.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = wsengine.Dial(ctx, "ws://"+l.Addr().String(), nil, nil)
		assert.ErrorIs(t, context.DeadlineExceeded, err)
	})

	t.Run("header", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rec := wstest.NewRecorder()
		cc, sc, err := wstest.Pipe(ctx, nil, rec, nil)
		assert.Success(t, err)
		defer cc.Close(wsengine.StatusNormalClosure, "")

		assert.Equal(t, "upgrade", "websocket", sc.Header()["upgrade"])
		assert.Equal(t, "role", wsengine.RoleServer, sc.Role())
		assert.Equal(t, "role", wsengine.RoleClient, cc.Role())
	})
}
