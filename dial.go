package wsengine

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"nhooyr.io/wsengine/internal/errd"
)

// DialOptions represents the options available to pass to Dial.
type DialOptions struct {
	// Header are extra HTTP headers included in the handshake request.
	Header http.Header

	// TLSConfig is used for wss URLs.
	// ServerName defaults to the host of the URL.
	TLSConfig *tls.Config

	// Options configures the connection.
	Options *Options
}

// Dial connects to the WebSocket server at u and performs the handshake.
// u uses the ws or wss scheme. The port defaults to 80 for ws and
// 443 for wss and the path to /.
//
// The returned connection is open and read from in its own goroutine.
// h receives its events, including OnConnect before Dial returns.
func Dial(ctx context.Context, u string, h Handler, opts *DialOptions) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to dial %q", u)

	if opts == nil {
		opts = &DialOptions{}
	}
	if h == nil {
		h = HandlerFuncs{}
	}

	t, err := parseURL(u)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	if t.secure {
		cfg := &tls.Config{}
		if opts.TLSConfig != nil {
			cfg = opts.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = t.hostname
		}
		tc := tls.Client(nc, cfg)
		err = tc.HandshakeContext(ctx)
		if err != nil {
			nc.Close()
			return nil, xerrors.Errorf("failed to perform TLS handshake: %w", err)
		}
		nc = tc
	}

	dh := &dialHandler{
		Handler:   h,
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	c := NewConn(RoleClient, nc, dh, opts.Options)

	err = c.StartHandshake(t.host, t.path, opts.Header)
	if err != nil {
		c.Close(StatusAbnormalClosure, "")
		return nil, err
	}

	go func() {
		err := c.Run(context.Background())
		if err != nil {
			c.log.Debug("connection ended", zap.Error(err))
		}
	}()

	select {
	case <-dh.connected:
		return c, nil
	case <-dh.closed:
		select {
		case <-dh.connected:
			return c, nil
		default:
		}
		if err := dh.error(); err != nil {
			return nil, err
		}
		return nil, xerrors.Errorf("%w: connection closed during handshake", ErrHandshake)
	case <-ctx.Done():
		c.Close(StatusAbnormalClosure, "")
		return nil, ctx.Err()
	}
}

type dialTarget struct {
	secure   bool
	hostname string
	// host is the value of the Host header.
	host string
	addr string
	path string
}

func parseURL(s string) (dialTarget, error) {
	u, err := url.Parse(s)
	if err != nil {
		return dialTarget{}, xerrors.Errorf("failed to parse websocket url: %w", err)
	}

	var t dialTarget
	switch u.Scheme {
	case "ws", "http":
	case "wss", "https":
		t.secure = true
	default:
		return dialTarget{}, xerrors.Errorf("unexpected url scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return dialTarget{}, xerrors.Errorf("missing host in url %q", s)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if t.secure {
			port = "443"
		}
	}

	t.hostname = u.Hostname()
	t.host = u.Host
	t.addr = net.JoinHostPort(t.hostname, port)
	t.path = u.RequestURI()
	return t, nil
}

// dialHandler reports the outcome of the handshake to Dial.
type dialHandler struct {
	Handler

	connected chan struct{}
	closed    chan struct{}

	mu  sync.Mutex
	err error
}

func (h *dialHandler) OnConnect(c *Conn) {
	h.Handler.OnConnect(c)
	close(h.connected)
}

func (h *dialHandler) OnError(c *Conn, err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.Handler.OnError(c, err)
}

func (h *dialHandler) OnClose(c *Conn, code StatusCode, reason string) {
	close(h.closed)
	h.Handler.OnClose(c, code, reason)
}

func (h *dialHandler) error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
