package wsengine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"nhooyr.io/wsengine/internal/errd"
)

// Upgrade takes over the connection of a WebSocket handshake request
// received by an http.Handler and answers it.
//
// On success the returned connection is open and read from in its own
// goroutine. On failure the client has been answered with a 400 and
// h received OnError and OnClose.
func Upgrade(w http.ResponseWriter, r *http.Request, h Handler, opts *Options) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to upgrade")

	hj, ok := w.(http.Hijacker)
	if !ok {
		err = xerrors.New("http.ResponseWriter does not implement http.Hijacker")
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return nil, err
	}

	nc, brw, err := hj.Hijack()
	if err != nil {
		err = xerrors.Errorf("failed to hijack connection: %w", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	c := NewConn(RoleServer, hijackedConn{Conn: nc, r: brw.Reader}, h, opts)
	err = c.Feed([]byte(requestHandshake(r)))
	if err != nil {
		return nil, err
	}
	if c.State() != StateOpen {
		c.Close(StatusAbnormalClosure, "")
		return nil, xerrors.Errorf("%w: incomplete request", ErrHandshake)
	}

	go func() {
		err := c.Run(context.Background())
		if err != nil {
			c.log.Debug("connection ended", zap.Error(err))
		}
	}()
	return c, nil
}

// requestHandshake serializes the request line and headers of r
// the way they arrived.
func requestHandshake(r *http.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/%d.%d\r\n", r.Method, r.URL.RequestURI(), r.ProtoMajor, r.ProtoMinor)
	fmt.Fprintf(&b, "Host: %s\r\n", r.Host)
	writeHeader(&b, r.Header)
	b.WriteString("\r\n")
	return b.String()
}

// hijackedConn reads through the bufio.Reader of the hijacked
// connection which may hold bytes sent after the request.
type hijackedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c hijackedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
