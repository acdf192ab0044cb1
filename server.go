package wsengine

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nhooyr.io/wsengine/internal/errd"
)

const defaultShutdownTimeout = 5 * time.Second

// Server accepts WebSocket connections on a listener.
//
// Open connections are tracked and closed with StatusGoingAway when
// the server shuts down.
type Server struct {
	// Handler receives the events of every connection.
	Handler Handler

	// Options configures every connection.
	Options *Options

	// TLSConfig enables TLS on accepted connections when set.
	TLSConfig *tls.Config

	// MaxConnections bounds the connections served at once.
	// Accepting pauses at the limit. Zero means no limit.
	MaxConnections int

	// ShutdownTimeout is how long open connections get to finish
	// their close handshake on shutdown. Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (err error) {
	defer errd.Wrap(&err, "failed to listen and serve on %q", addr)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled or accepting
// fails. It then closes l, closes every open connection with
// StatusGoingAway and waits for them to finish.
//
// Serve returns nil after ctx was cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	log := s.logger()

	// Connections outlive ctx for the duration of the shutdown.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	var conns errgroup.Group
	var sem *semaphore.Weighted
	if s.MaxConnections > 0 {
		sem = semaphore.NewWeighted(int64(s.MaxConnections))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		l.Close()
		return nil
	})
	g.Go(func() error {
		for {
			if sem != nil {
				err := sem.Acquire(gctx, 1)
				if err != nil {
					return nil
				}
			}
			nc, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			log.Debug("accepted connection", zap.Stringer("remote_addr", nc.RemoteAddr()))

			if s.TLSConfig != nil {
				nc = tls.Server(nc, s.TLSConfig)
			}
			conns.Go(func() error {
				if sem != nil {
					defer sem.Release(1)
				}
				s.serveConn(connCtx, nc)
				return nil
			})
		}
	})
	err := g.Wait()

	s.closeAll(StatusGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		conns.Wait()
		close(done)
	}()
	t := time.NewTimer(s.shutdownTimeout())
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		log.Warn("connections did not close in time")
		cancelConns()
		<-done
	}
	return err
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	c := NewConn(RoleServer, nc, &registryHandler{s: s, Handler: s.handler()}, s.Options)
	err := c.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("connection ended", zap.Error(err))
	}
	// A connection closed before its handshake was never registered.
	s.remove(c)
}

// Connections returns the connections currently open.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) closeAll(code StatusCode, reason string) {
	for _, c := range s.Connections() {
		err := c.Close(code, reason)
		if err != nil {
			c.log.Debug("failed to close connection", zap.Error(err))
		}
	}
}

func (s *Server) add(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns == nil {
		s.conns = make(map[*Conn]struct{})
	}
	s.conns[c] = struct{}{}
}

func (s *Server) remove(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handler() Handler {
	if s.Handler == nil {
		return HandlerFuncs{}
	}
	return s.Handler
}

func (s *Server) logger() *zap.Logger {
	if s.Options == nil || s.Options.Logger == nil {
		return zap.NewNop()
	}
	return s.Options.Logger.Named("wsengine")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return s.ShutdownTimeout
}

// registryHandler tracks the open connections of a Server.
type registryHandler struct {
	Handler
	s *Server
}

func (h *registryHandler) OnConnect(c *Conn) {
	h.s.add(c)
	h.Handler.OnConnect(c)
}

func (h *registryHandler) OnClose(c *Conn, code StatusCode, reason string) {
	h.s.remove(c)
	h.Handler.OnClose(c, code, reason)
}
