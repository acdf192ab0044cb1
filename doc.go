// Package wsengine is a WebSocket protocol engine for clients and servers.
//
// See https://tools.ietf.org/html/rfc6455
//
// A Conn is fed the bytes received from its transport and writes frames
// to it directly. Its Handler receives connection events: the handshake
// completing, complete text messages, binary messages as InboundStreams
// and the close of the connection. Run drives a Conn from a blocking
// transport such as a net.Conn and pauses reading while the application
// is behind on a binary message.
//
// Dial connects to a server, Server accepts connections on a
// net.Listener and Upgrade takes over a request received by an
// http.Handler.
//
// Extensions, subprotocols and UTF-8 validation of text messages are
// not supported.
package wsengine
