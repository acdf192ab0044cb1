// Package wsecho implements a WebSocket echo server.
//
// Text messages are answered upper cased with "!!!" appended and binary
// messages are streamed back unchanged.
package wsecho

import (
	"context"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nhooyr.io/wsengine"
)

// Handler echoes the messages of every connection.
type Handler struct {
	log   *zap.Logger
	limit rate.Limit
	burst int

	limiters sync.Map
}

var _ wsengine.Handler = &Handler{}

// NewHandler returns a Handler echoing at most perSecond messages per
// connection, burst of them without delay. perSecond <= 0 echoes
// without limit.
func NewHandler(log *zap.Logger, perSecond float64, burst int) *Handler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Handler{
		log:   log,
		limit: limit,
		burst: burst,
	}
}

// Reply returns the text sent back for msg.
func Reply(msg string) string {
	return strings.ToUpper(msg) + "!!!"
}

func (h *Handler) OnConnect(c *wsengine.Conn) {
	h.limiters.Store(c, rate.NewLimiter(h.limit, h.burst))
	h.log.Info("new connection", zap.String("host", c.Header()["host"]), zap.String("path", c.Path()))
}

// wait blocks until c may be echoed to again. Reading from c pauses
// meanwhile.
func (h *Handler) wait(c *wsengine.Conn) bool {
	v, ok := h.limiters.Load(c)
	if !ok {
		return false
	}
	err := v.(*rate.Limiter).Wait(context.Background())
	if err != nil {
		h.log.Warn("rate limiter failed", zap.Error(err))
		c.Close(wsengine.StatusPolicyViolation, "rate limited")
		return false
	}
	return true
}

func (h *Handler) OnText(c *wsengine.Conn, s string) {
	if !h.wait(c) {
		return
	}
	err := c.SendText(Reply(s))
	if err != nil {
		h.log.Debug("failed to echo text", zap.Error(err))
	}
}

func (h *Handler) OnBinary(c *wsengine.Conn, s *wsengine.InboundStream) {
	if !h.wait(c) {
		s.Close()
		return
	}
	out, err := c.BeginBinaryStream()
	if err != nil {
		h.log.Debug("failed to echo binary", zap.Error(err))
		s.Close()
		return
	}
	go func() {
		defer s.Close()
		_, err := io.Copy(out, s)
		if err != nil {
			h.log.Debug("binary message cut short", zap.Error(err))
		}
		err = out.Close()
		if err != nil {
			h.log.Debug("failed to finish binary echo", zap.Error(err))
		}
	}()
}

func (h *Handler) OnPong(c *wsengine.Conn, p []byte) {
	h.log.Debug("pong", zap.Int("len", len(p)))
}

func (h *Handler) OnClose(c *wsengine.Conn, code wsengine.StatusCode, reason string) {
	h.limiters.Delete(c)
	h.log.Info("connection closed", zap.Stringer("code", code), zap.String("reason", reason))
}

func (h *Handler) OnError(c *wsengine.Conn, err error) {
	h.log.Warn("connection error", zap.Error(err))
}

// Serve runs an echo server configured by cfg until ctx is cancelled.
func Serve(ctx context.Context, cfg Config, log *zap.Logger) error {
	if cfg.FragmentSize > 0 {
		wsengine.SetDefaultFragmentSize(cfg.FragmentSize)
	}
	if cfg.MaxBufferLength > 0 {
		wsengine.SetDefaultMaxBufferLength(cfg.MaxBufferLength)
	}

	s := &wsengine.Server{
		Handler:        NewHandler(log, cfg.RateLimit, cfg.RateBurst),
		Options:        &wsengine.Options{Logger: log},
		MaxConnections: cfg.MaxConnections,
	}
	log.Info("listening", zap.String("addr", cfg.Addr))
	return s.ListenAndServe(ctx, cfg.Addr)
}
