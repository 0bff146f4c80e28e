// Package envelope implements the outer MTProto transport framings that wrap
// a plain or encrypted message before it reaches the socket.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

var (
	ErrBadLength   = errors.New("envelope: bad packet length")
	ErrBadChecksum = errors.New("envelope: crc32 mismatch")
	ErrBadSequence = errors.New("envelope: unexpected sequence number")
	ErrUnknownKind = errors.New("envelope: unknown codec")
)

const (
	NameFull         = "full"
	NameIntermediate = "intermediate"

	fullOverhead = 12
	// intermediateTag opens an intermediate-framed connection.
	intermediateTag uint32 = 0xeeeeeeee
)

// Codec wraps outbound payloads and unwraps inbound packets.
type Codec interface {
	Name() string
	Wrap(payload []byte) []byte
	Unwrap(packet []byte) ([]byte, error)
	Sizer
}

// Sizer maps the little-endian 4-byte prefix of a packet to its full size on
// the wire, prefix included.
type Sizer interface {
	PacketSize(prefix uint32) (int, error)
}

// Preambler is implemented by codecs that announce themselves once per connection.
type Preambler interface {
	Preamble() []byte
}

// New builds a codec by config name.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameFull:
		return NewFull(), nil
	case NameIntermediate:
		return NewIntermediate(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// Full is the TCP "full" framing: length, sequence number, payload, crc32.
// Sequence counters are per direction and not safe for concurrent use.
type Full struct {
	sendSeq uint32
	recvSeq uint32
}

func NewFull() *Full { return &Full{} }

func (f *Full) Name() string { return NameFull }

func (f *Full) Wrap(payload []byte) []byte {
	total := fullOverhead + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], f.sendSeq)
	copy(buf[8:], payload)
	binary.LittleEndian.PutUint32(buf[total-4:], crc32.ChecksumIEEE(buf[:total-4]))
	f.sendSeq++
	return buf
}

func (f *Full) Unwrap(packet []byte) ([]byte, error) {
	if len(packet) < fullOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadLength, len(packet))
	}
	declared := binary.LittleEndian.Uint32(packet[0:4])
	if int(declared) != len(packet) {
		return nil, fmt.Errorf("%w: declared=%d got=%d", ErrBadLength, declared, len(packet))
	}
	end := len(packet) - 4
	if want, got := binary.LittleEndian.Uint32(packet[end:]), crc32.ChecksumIEEE(packet[:end]); want != got {
		return nil, fmt.Errorf("%w: want=%08x got=%08x", ErrBadChecksum, want, got)
	}
	if seq := binary.LittleEndian.Uint32(packet[4:8]); seq != f.recvSeq {
		return nil, fmt.Errorf("%w: want=%d got=%d", ErrBadSequence, f.recvSeq, seq)
	}
	f.recvSeq++
	out := make([]byte, end-8)
	copy(out, packet[8:end])
	return out, nil
}

func (f *Full) PacketSize(prefix uint32) (int, error) {
	if prefix < fullOverhead {
		return 0, fmt.Errorf("%w: declared=%d", ErrBadLength, prefix)
	}
	return int(prefix), nil
}

// Intermediate prefixes each payload with its length.
type Intermediate struct{}

func NewIntermediate() *Intermediate { return &Intermediate{} }

func (i *Intermediate) Name() string { return NameIntermediate }

func (i *Intermediate) Preamble() []byte {
	return binary.LittleEndian.AppendUint32(nil, intermediateTag)
}

func (i *Intermediate) Wrap(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func (i *Intermediate) Unwrap(packet []byte) ([]byte, error) {
	if len(packet) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadLength, len(packet))
	}
	declared := binary.LittleEndian.Uint32(packet[0:4])
	if int(declared) != len(packet)-4 {
		return nil, fmt.Errorf("%w: declared=%d got=%d", ErrBadLength, declared, len(packet)-4)
	}
	out := make([]byte, declared)
	copy(out, packet[4:])
	return out, nil
}

func (i *Intermediate) PacketSize(prefix uint32) (int, error) {
	return 4 + int(prefix), nil
}
