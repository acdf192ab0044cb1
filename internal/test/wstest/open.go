package wstest

import (
	"bytes"
	"net/http"
	"regexp"
	"testing"

	"nhooyr.io/wsengine"
	"nhooyr.io/wsengine/internal/test/assert"
)

// Request is a valid handshake request for path with the given key.
func Request(path, key string) string {
	return "GET " + path + " HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
}

// Response is a valid handshake response to key.
func Response(key string) string {
	return "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + wsengine.AcceptKey(key) + "\r\n\r\n"
}

// OpenServer returns an open server connection over a Transport.
// The handshake response is already taken from the transport.
func OpenServer(tb testing.TB, h wsengine.Handler, opts *wsengine.Options) (*wsengine.Conn, *Transport) {
	tb.Helper()

	t := &Transport{}
	c := wsengine.NewConn(wsengine.RoleServer, t, h, opts)
	err := c.Feed([]byte(Request("/chat", "dGhlIHNhbXBsZSBub25jZQ==")))
	assert.Success(tb, err)
	assert.Equal(tb, "state", wsengine.StateOpen, c.State())
	assert.Contains(tb, string(t.Take()), "101 Switching Protocols")
	return c, t
}

var keyHeader = regexp.MustCompile(`Sec-WebSocket-Key: (\S+)\r\n`)

// OpenClient returns an open client connection over a Transport.
// The handshake request is already taken from the transport.
func OpenClient(tb testing.TB, h wsengine.Handler, opts *wsengine.Options) (*wsengine.Conn, *Transport) {
	tb.Helper()

	t := &Transport{}
	c := wsengine.NewConn(wsengine.RoleClient, t, h, opts)
	err := c.StartHandshake("example.com", "/chat", http.Header{})
	assert.Success(tb, err)

	key := Key(t.Take())
	if key == "" {
		tb.Fatal("handshake request without key")
	}
	err = c.Feed([]byte(Response(key)))
	assert.Success(tb, err)
	assert.Equal(tb, "state", wsengine.StateOpen, c.State())
	return c, t
}

// Key returns the Sec-WebSocket-Key of the handshake request req.
func Key(req []byte) string {
	m := keyHeader.FindSubmatch(req)
	if m == nil {
		return ""
	}
	return string(bytes.TrimSpace(m[1]))
}
