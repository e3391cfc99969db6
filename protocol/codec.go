// Package protocol implements the control-plane framed message codec: a
// u32 big-endian length prefix followed by a tagged-union payload encoding
// of ControlMessage.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/macqgoye/NRelay/internal/bin"
	"github.com/macqgoye/NRelay/relayerr"
)

// MaxMessageSize is the largest payload (post length-prefix) this codec
// will read or write.
const MaxMessageSize = 64 * 1024

// ErrMessageTooLarge is the sentinel surfaced (wrapped in a relayerr.Error
// with CodeProtocol) when a frame's declared length exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// ErrMessageSizeZero is the sentinel surfaced when a frame's declared
// length is zero.
var ErrMessageSizeZero = errors.New("message size is zero")

// ErrMissingPayload is returned when a ControlMessage carries none of its
// four payload fields, which is always a protocol error on encode.
var ErrMissingPayload = errors.New("control message has no payload")

// WriteMessage encodes msg and writes the length-prefixed frame to w,
// flushing (via an explicit Write of the full frame) after the payload.
func WriteMessage(w io.Writer, msg *ControlMessage) error {
	payload, err := encode(msg)
	if err != nil {
		return relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, err)
	}
	if len(payload) == 0 {
		return relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, ErrMessageSizeZero)
	}
	if len(payload) > MaxMessageSize {
		return relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, ErrMessageTooLarge)
	}
	frame := make([]byte, 4+len(payload))
	bin.PutU32BE(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return relayerr.Wrap(relayerr.StageCodec, relayerr.CodeIO, err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it.
func ReadMessage(r io.Reader) (*ControlMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeConnectionClosed, err)
		}
		return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeIO, err)
	}
	n := bin.U32BE(lenBuf[:])
	if n == 0 {
		return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, ErrMessageSizeZero)
	}
	if n > MaxMessageSize {
		return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, ErrMessageTooLarge)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeConnectionClosed, err)
		}
		return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeIO, err)
	}
	msg, err := decode(payload)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StageCodec, relayerr.CodeProtocol, err)
	}
	return msg, nil
}

func encode(msg *ControlMessage) ([]byte, error) {
	tag, ok := msg.tag()
	if !ok {
		return nil, ErrMissingPayload
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(tag))
	switch tag {
	case typeClientAuth:
		buf.WriteByte(byte(msg.ClientAuth.Mode))
		writeString(&buf, msg.ClientAuth.TunnelToken)
	case typeAuthResult:
		writeBool(&buf, msg.AuthResult.Success)
		writeString(&buf, msg.AuthResult.Message)
		writeString(&buf, msg.AuthResult.TunnelID)
	case typeOpenTunnel:
		writeString(&buf, msg.OpenTunnelRequest.TunnelID)
		writeString(&buf, msg.OpenTunnelRequest.ConnectionID)
	case typeTunnelOk:
		writeString(&buf, msg.TunnelOk.ConnectionID)
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) (*ControlMessage, error) {
	if len(payload) < 1 {
		return nil, ErrMissingPayload
	}
	tag := messageType(payload[0])
	rest := payload[1:]
	switch tag {
	case typeClientAuth:
		if len(rest) < 1 {
			return nil, fmt.Errorf("truncated ClientAuth")
		}
		mode := AuthMode(rest[0])
		token, _, err := readString(rest[1:])
		if err != nil {
			return nil, err
		}
		return &ControlMessage{ClientAuth: &ClientAuth{Mode: mode, TunnelToken: token}}, nil
	case typeAuthResult:
		if len(rest) < 1 {
			return nil, fmt.Errorf("truncated AuthResult")
		}
		success := rest[0] != 0
		message, n, err := readString(rest[1:])
		if err != nil {
			return nil, err
		}
		tunnelID, _, err := readString(rest[1+n:])
		if err != nil {
			return nil, err
		}
		return &ControlMessage{AuthResult: &AuthResult{Success: success, Message: message, TunnelID: tunnelID}}, nil
	case typeOpenTunnel:
		tunnelID, n, err := readString(rest)
		if err != nil {
			return nil, err
		}
		connID, _, err := readString(rest[n:])
		if err != nil {
			return nil, err
		}
		return &ControlMessage{OpenTunnelRequest: &OpenTunnelRequest{TunnelID: tunnelID, ConnectionID: connID}}, nil
	case typeTunnelOk:
		connID, _, err := readString(rest)
		if err != nil {
			return nil, err
		}
		return &ControlMessage{TunnelOk: &TunnelOk{ConnectionID: connID}}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", tag)
	}
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// writeString writes a u16 big-endian length prefix followed by the UTF-8
// bytes of s. Strings longer than 64KiB cannot occur in this protocol
// (the whole frame is capped at MaxMessageSize) so overflow is not a
// practical concern here.
func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	bin.PutU16BE(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

// readString reads a u16-length-prefixed string from b, returning the
// string, the number of bytes consumed, and an error if b is truncated.
func readString(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, fmt.Errorf("truncated string length")
	}
	n := int(bin.U16BE(b[:2]))
	if len(b) < 2+n {
		return "", 0, fmt.Errorf("truncated string body")
	}
	return string(b[2 : 2+n]), 2 + n, nil
}
