package wsengine

// Handler receives the events of a connection.
//
// Events are delivered on the goroutine that fed the bytes causing them
// (usually the one running Conn.Run) or that called the Conn method
// causing them. Events delivered on one goroutine arrive in protocol
// order. Events of different goroutines may run concurrently, such as
// OnClose after a failed send racing a message delivered by Run.
// The connection is unlocked while a Handler method runs, so handlers
// may call any Conn method.
type Handler interface {
	// OnConnect is called once the handshake succeeded.
	OnConnect(c *Conn)
	// OnText is called with every complete text message.
	OnText(c *Conn, s string)
	// OnBinary is called when a binary message begins.
	// The message bytes are read from s, which ends with io.EOF once
	// the message is complete. Reading from the transport pauses while
	// too many bytes of s are unread, so s must be consumed on another
	// goroutine or closed to discard the message.
	OnBinary(c *Conn, s *InboundStream)
	// OnPong is called with the payload of every pong frame.
	OnPong(c *Conn, p []byte)
	// OnClose is called at most once, when the connection closes or
	// starts closing, with the status code and reason of the close.
	OnClose(c *Conn, code StatusCode, reason string)
	// OnError is called when the handshake fails or the transport
	// returns an error.
	OnError(c *Conn, err error)
}

// HandlerFuncs implements Handler with optional functions.
// Nil fields ignore their event, except Binary where the
// message is discarded.
type HandlerFuncs struct {
	Connect func(c *Conn)
	Text    func(c *Conn, s string)
	Binary  func(c *Conn, s *InboundStream)
	Pong    func(c *Conn, p []byte)
	Close   func(c *Conn, code StatusCode, reason string)
	Error   func(c *Conn, err error)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnConnect(c *Conn) {
	if h.Connect != nil {
		h.Connect(c)
	}
}

func (h HandlerFuncs) OnText(c *Conn, s string) {
	if h.Text != nil {
		h.Text(c, s)
	}
}

func (h HandlerFuncs) OnBinary(c *Conn, s *InboundStream) {
	if h.Binary != nil {
		h.Binary(c, s)
		return
	}
	s.Close()
}

func (h HandlerFuncs) OnPong(c *Conn, p []byte) {
	if h.Pong != nil {
		h.Pong(c, p)
	}
}

func (h HandlerFuncs) OnClose(c *Conn, code StatusCode, reason string) {
	if h.Close != nil {
		h.Close(c, code, reason)
	}
}

func (h HandlerFuncs) OnError(c *Conn, err error) {
	if h.Error != nil {
		h.Error(c, err)
	}
}
