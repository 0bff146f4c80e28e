package messenger

import (
	"errors"

	"github.com/danmuck/tgwire/internal/protocol/tl"
	"github.com/danmuck/tgwire/internal/transport"
)

var (
	ErrProtocolViolation = errors.New("messenger: protocol violation")
	ErrResponseTimeout   = errors.New("messenger: response timeout")
	ErrNotImplemented    = errors.New("messenger: not implemented")
)

// Messenger is implemented by each connection mode. Plain covers the
// unencrypted mode used before an auth key exists.
type Messenger interface {
	ReadMessage() (tl.Message, error)
	WriteMessage(msg tl.ClientMessage) error
	GetResponseAsync(msg tl.ClientMessage, onResponse func(tl.Message)) error
	GetResponseConsecutive(msgs []tl.ClientMessage, onLastResponse func(tl.Message)) error
	DCInfo() transport.DataCentre
	Terminate() error
}

// Envelope is the outer framing applied around the plain envelope.
type Envelope interface {
	Wrap(payload []byte) []byte
	Unwrap(packet []byte) ([]byte, error)
}

// IDGenerator supplies message ids, monotonic per connection.
type IDGenerator interface {
	Next() uint64
}

// PayloadCodec turns message bodies into typed messages.
type PayloadCodec interface {
	Deserialize(body []byte) (tl.Message, error)
}

// Received is one inbound message with the id carried by its envelope.
type Received struct {
	MessageID uint64
	Message   tl.Message
}
