package wsengine

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// maxControlPayload is the maximum length of a control frame payload.
// See https://tools.ietf.org/html/rfc6455#section-5.5.
const maxControlPayload = 125

// maxHeaderLength is the length of the largest possible frame header:
// 2 bytes, an 8 byte extended length and a 4 byte mask key.
const maxHeaderLength = 14

// ErrProtocol is wrapped by every error describing a peer that broke
// the framing rules. Connections close with StatusProtocolError on it.
var ErrProtocol = errors.New("websocket protocol violation")

func protocolError(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocol}, v...)...)
}

// Frame is a single WebSocket frame.
// See https://tools.ietf.org/html/rfc6455#section-5.2
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	// Payload is always unmasked.
	Payload []byte
}

// header is the decoded fixed part of a frame.
type header struct {
	fin           bool
	opcode        Opcode
	masked        bool
	maskKey       [4]byte
	payloadLength uint64
}

// EncodeFrame serializes a frame with the given opcode and payload
// as sent by role. Clients mask the payload with a random key,
// servers never mask. p is not modified.
//
// The opcode of every frame but the first of a fragmented message
// must be OpContinuation.
func EncodeFrame(op Opcode, p []byte, role Role, fin bool) ([]byte, error) {
	if !op.valid() {
		return nil, fmt.Errorf("cannot encode frame with opcode %v", op)
	}
	if op.controlOp() {
		if !fin {
			return nil, fmt.Errorf("cannot fragment %v frame", op)
		}
		if len(p) > maxControlPayload {
			return nil, fmt.Errorf("%v frame payload of %v bytes exceeds the %v byte maximum", op, len(p), maxControlPayload)
		}
	}

	masked := role.masksOutbound()
	n := uint64(len(p))

	b := make([]byte, 0, maxHeaderLength+len(p))

	b0 := byte(op)
	if fin {
		b0 |= 1 << 7
	}

	var lengthByte byte
	if masked {
		lengthByte |= 1 << 7
	}

	switch {
	case n > math.MaxUint16:
		b = append(b, b0, lengthByte|127)
		b = binary.BigEndian.AppendUint64(b, n)
	case n > 125:
		b = append(b, b0, lengthByte|126)
		b = binary.BigEndian.AppendUint16(b, uint16(n))
	default:
		b = append(b, b0, lengthByte|byte(n))
	}

	if !masked {
		return append(b, p...), nil
	}

	var key [4]byte
	_, err := rand.Read(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to generate masking key: %w", err)
	}
	b = append(b, key[:]...)

	start := len(b)
	b = append(b, p...)
	mask(binary.LittleEndian.Uint32(key[:]), b[start:])
	return b, nil
}

// DecodeFrame parses the first frame in b as received by role.
//
// There are three outcomes:
//   - the frame is complete: it is returned with n > 0, the number
//     of bytes of b it occupied.
//   - b does not hold the whole frame yet: n == 0 and err == nil.
//   - the bytes break the protocol: err wraps ErrProtocol.
//
// The returned payload is unmasked and does not alias b.
func DecodeFrame(b []byte, role Role) (f Frame, n int, err error) {
	h, off, err := decodeHeader(b, role)
	if err != nil || off == 0 {
		return Frame{}, 0, err
	}

	if uint64(len(b)-off) < h.payloadLength {
		return Frame{}, 0, nil
	}
	end := off + int(h.payloadLength)

	f = Frame{
		Fin:     h.fin,
		Opcode:  h.opcode,
		Masked:  h.masked,
		MaskKey: h.maskKey,
		Payload: make([]byte, h.payloadLength),
	}
	copy(f.Payload, b[off:end])
	if f.Masked {
		mask(binary.LittleEndian.Uint32(f.MaskKey[:]), f.Payload)
	}

	return f, end, nil
}

// decodeHeader parses the header of the first frame in b.
// It returns the header length or 0 if b is too short to hold it.
func decodeHeader(b []byte, role Role) (h header, n int, err error) {
	if len(b) < 2 {
		return header{}, 0, nil
	}

	if b[0]&0x70 != 0 {
		return header{}, 0, protocolError("received header with reserved bits set: %#x", b[0]&0x70)
	}

	h.fin = b[0]&(1<<7) != 0
	h.opcode = Opcode(b[0] & 0xf)
	if !h.opcode.valid() {
		return header{}, 0, protocolError("received unknown opcode %v", h.opcode)
	}
	if h.opcode.controlOp() && !h.fin {
		return header{}, 0, protocolError("received fragmented %v frame", h.opcode)
	}

	h.masked = b[1]&(1<<7) != 0
	if h.masked != role.expectsMasked() {
		if h.masked {
			return header{}, 0, protocolError("received masked frame from server")
		}
		return header{}, 0, protocolError("received unmasked frame from client")
	}

	n = 2
	h.payloadLength = uint64(b[1] &^ (1 << 7))
	switch h.payloadLength {
	case 126:
		if len(b) < n+2 {
			return header{}, 0, nil
		}
		h.payloadLength = uint64(binary.BigEndian.Uint16(b[n:]))
		n += 2
	case 127:
		if len(b) < n+8 {
			return header{}, 0, nil
		}
		h.payloadLength = binary.BigEndian.Uint64(b[n:])
		n += 8
		if h.payloadLength > math.MaxInt64 {
			return header{}, 0, protocolError("received payload length with most significant bit set")
		}
	}

	if h.opcode.controlOp() && h.payloadLength > maxControlPayload {
		return header{}, 0, protocolError("received %v frame payload of %v bytes", h.opcode, h.payloadLength)
	}

	if h.masked {
		if len(b) < n+4 {
			return header{}, 0, nil
		}
		copy(h.maskKey[:], b[n:n+4])
		n += 4
	}

	return h, n, nil
}
