// Package wsjson provides helpers for JSON messages.
package wsjson

import (
	"encoding/json"
	"io"

	"golang.org/x/xerrors"

	"nhooyr.io/wsengine"
)

// maxMessage bounds the bytes ReadStream reads.
const maxMessage = 32768

// Write sends v encoded as JSON in a text message.
func Write(c *wsengine.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to encode json: %w", err)
	}

	err = c.SendText(string(b))
	if err != nil {
		return xerrors.Errorf("failed to write json: %w", err)
	}
	return nil
}

// Read decodes the text message msg into v.
func Read(msg string, v interface{}) error {
	err := json.Unmarshal([]byte(msg), v)
	if err != nil {
		return xerrors.Errorf("failed to decode json: %w", err)
	}
	return nil
}

// ReadStream decodes a JSON value of up to 32768 bytes from the binary
// message s into v and discards the rest of s.
func ReadStream(s *wsengine.InboundStream, v interface{}) error {
	defer s.Close()

	d := json.NewDecoder(io.LimitReader(s, maxMessage))
	err := d.Decode(v)
	if err != nil {
		return xerrors.Errorf("failed to decode json: %w", err)
	}
	return nil
}
