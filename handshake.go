package wsengine

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
)

// ErrHandshake is wrapped by every error describing a handshake that
// could not be completed.
var ErrHandshake = errors.New("websocket handshake failed")

func handshakeError(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrHandshake}, v...)...)
}

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// AcceptKey returns the Sec-WebSocket-Accept value answering the
// Sec-WebSocket-Key key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func makeKey() (string, error) {
	b := make([]byte, 16)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return "", fmt.Errorf("failed to read random data from rand.Reader: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

var (
	crlfcrlf = []byte("\r\n\r\n")

	requestLine  = regexp.MustCompile(`(?i)^GET (\S+) HTTP/\d\.\d$`)
	responseLine = regexp.MustCompile(`(?i)^HTTP/\d\.\d 101( .*)?$`)
)

// StartHandshake writes the opening handshake request of a client
// connection. extra headers are sent after the required ones.
func (c *Conn) StartHandshake(host, path string, extra http.Header) error {
	c.mu.Lock()
	err := c.startHandshake(host, path, extra)
	return c.unlock(err)
}

func (c *Conn) startHandshake(host, path string, extra http.Header) error {
	if c.role != RoleClient {
		return errors.New("only clients start the handshake")
	}
	if c.state != StateConnecting || c.key != "" {
		return errors.New("handshake already started")
	}
	if path == "" {
		path = "/"
	}

	key, err := makeKey()
	if err != nil {
		return err
	}
	c.key = key
	c.path = path

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	writeHeader(&b, extra)
	b.WriteString("\r\n")

	c.queue([]byte(b.String()))
	return nil
}

// writeHeader writes h sorted by name.
func writeHeader(b *strings.Builder, h http.Header) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range h[name] {
			fmt.Fprintf(b, "%s: %s\r\n", name, v)
		}
	}
}

// readHandshake consumes the handshake at the start of c.buf once it
// is complete. Bytes after it stay buffered.
func (c *Conn) readHandshake() (bool, error) {
	b := c.buf.Bytes()
	i := bytes.Index(b, crlfcrlf)
	if i < 0 {
		if len(b) > c.opts.MaxBufferLength {
			return false, fmt.Errorf("%w: %w: header block exceeds %v bytes", ErrHandshake, ErrMessageTooBig, c.opts.MaxBufferLength)
		}
		return false, nil
	}
	lines := strings.Split(string(b[:i]), "\r\n")
	c.buf.Next(i + len(crlfcrlf))

	if c.role == RoleServer {
		return true, c.answerHandshake(lines)
	}
	return true, c.checkHandshake(lines)
}

// parseHeader reads header lines into a map keyed by lower cased name.
// Malformed lines are skipped. Later values of a repeated header
// replace earlier ones.
func parseHeader(lines []string) map[string]string {
	h := make(map[string]string, len(lines))
	for _, l := range lines {
		name, value, ok := strings.Cut(l, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			continue
		}
		h[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	return h
}

// answerHandshake validates the request of a client and completes
// the handshake.
func (c *Conn) answerHandshake(lines []string) error {
	m := requestLine.FindStringSubmatch(lines[0])
	if m == nil {
		return handshakeError("invalid request line %q", lines[0])
	}
	h := parseHeader(lines[1:])

	for _, name := range []string{"host", "sec-websocket-key", "upgrade", "connection"} {
		if h[name] == "" {
			return handshakeError("missing %q header", name)
		}
	}
	if !strings.EqualFold(h["upgrade"], "websocket") {
		return handshakeError("upgrade header must be websocket but got %q", h["upgrade"])
	}
	if !httpguts.HeaderValuesContainsToken([]string{h["connection"]}, "upgrade") {
		return handshakeError("connection header must contain upgrade but got %q", h["connection"])
	}
	if h["sec-websocket-version"] != "13" {
		return handshakeError("websocket protocol version must be 13 but got %q", h["sec-websocket-version"])
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(h["sec-websocket-key"]) + "\r\n\r\n"
	c.queue([]byte(resp))

	c.path = m[1]
	c.header = h
	c.open()
	return nil
}

// checkHandshake validates the response of a server to StartHandshake.
func (c *Conn) checkHandshake(lines []string) error {
	if c.key == "" {
		return handshakeError("received a response before sending a request")
	}
	if !responseLine.MatchString(lines[0]) {
		return handshakeError("expected 101 response but got %q", lines[0])
	}
	h := parseHeader(lines[1:])

	if !strings.EqualFold(h["upgrade"], "websocket") {
		return handshakeError("upgrade header must be websocket but got %q", h["upgrade"])
	}
	if !httpguts.HeaderValuesContainsToken([]string{h["connection"]}, "upgrade") {
		return handshakeError("connection header must contain upgrade but got %q", h["connection"])
	}
	if h["sec-websocket-accept"] != AcceptKey(c.key) {
		return handshakeError("invalid sec-websocket-accept %q", h["sec-websocket-accept"])
	}

	c.header = h
	c.open()
	return nil
}

func (c *Conn) open() {
	c.state = StateOpen
	c.log.Debug("handshake complete", zap.String("path", c.path))
	c.emit(func(h Handler) {
		h.OnConnect(c)
	})
}
