package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed unencrypted envelope header:
// auth_key_id(8) | message_id(8) | body_length(4).
const HeaderLen = 20

var (
	ErrBadAuthKeyID      = errors.New("frame: auth_key_id must be 0 for unencrypted messages")
	ErrTruncatedEnvelope = errors.New("frame: truncated envelope")
)

// Header is the fixed wire header.
type Header struct {
	AuthKeyID uint64
	MessageID uint64
	BodyLen   uint32
}

// Envelope is one complete unencrypted message.
type Envelope struct {
	Header
	Body []byte
}

// Encode prefixes body with a zero auth_key_id, messageID and the body length.
func Encode(body []byte, messageID uint64) []byte {
	out := make([]byte, HeaderLen+len(body))
	copy(out, EncodeHeader(Header{MessageID: messageID, BodyLen: uint32(len(body))}))
	copy(out[HeaderLen:], body)
	return out
}

// Decode validates raw and returns a copy of the body.
func Decode(raw []byte) ([]byte, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// DecodeEnvelope validates raw and returns the parsed envelope. Bytes after
// the declared body are ignored.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if len(raw) < HeaderLen {
		return Envelope{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedEnvelope, HeaderLen, len(raw))
	}
	h, err := DecodeHeader(raw[:HeaderLen])
	if err != nil {
		return Envelope{}, err
	}
	if h.AuthKeyID != 0 {
		return Envelope{}, fmt.Errorf("%w: got %#x", ErrBadAuthKeyID, h.AuthKeyID)
	}

	available := uint64(len(raw) - HeaderLen)
	if uint64(h.BodyLen) > available {
		return Envelope{}, fmt.Errorf("%w: body_length=%d available=%d", ErrTruncatedEnvelope, h.BodyLen, available)
	}

	body := make([]byte, h.BodyLen)
	copy(body, raw[HeaderLen:HeaderLen+int(h.BodyLen)])
	return Envelope{Header: h, Body: body}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint64(buf[0:8], h.AuthKeyID)
	binary.LittleEndian.PutUint64(buf[8:16], h.MessageID)
	binary.LittleEndian.PutUint32(buf[16:20], h.BodyLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		AuthKeyID: binary.LittleEndian.Uint64(b[0:8]),
		MessageID: binary.LittleEndian.Uint64(b[8:16]),
		BodyLen:   binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}
