// Package wspb provides helpers for protobuf messages.
package wspb

import (
	"io"

	"github.com/golang/protobuf/proto"
	"golang.org/x/xerrors"

	"nhooyr.io/wsengine"
)

// maxMessage bounds the bytes Read reads.
const maxMessage = 32768

// Read reads a protobuf message of up to 32768 bytes from s into v.
func Read(s *wsengine.InboundStream, v proto.Message) error {
	defer s.Close()

	b, err := io.ReadAll(io.LimitReader(s, maxMessage+1))
	if err != nil {
		return xerrors.Errorf("failed to read message: %w", err)
	}
	if len(b) > maxMessage {
		return xerrors.Errorf("protobuf message exceeds %v bytes", maxMessage)
	}

	err = proto.Unmarshal(b, v)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal protobuf: %w", err)
	}
	return nil
}

// Write sends the protobuf message v as a binary message.
func Write(c *wsengine.Conn, v proto.Message) error {
	b, err := proto.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to marshal protobuf: %w", err)
	}

	err = c.SendBinary(b)
	if err != nil {
		return xerrors.Errorf("failed to write protobuf: %w", err)
	}
	return nil
}
