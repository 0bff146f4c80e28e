package tl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Message is a decoded TL object with a debug-printable form.
type Message interface {
	Constructor() uint32
	TypeName() string
	DebugString() string
}

// ClientMessage is an outbound request with a canonical binary body.
type ClientMessage interface {
	ToBinary() []byte
}

// DecodeFunc reads the fields that follow the constructor id.
type DecodeFunc func(d *Decoder) (Message, error)

type entry struct {
	name   string
	decode DecodeFunc
}

// DecodeError reports a body that could not be turned into a Message.
type DecodeError struct {
	Constructor uint32
	Name        string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("tl: constructor=%#08x: %v", e.Constructor, e.Err)
	}
	return fmt.Sprintf("tl: %s#%08x: %v", e.Name, e.Constructor, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Registry maps constructor ids to decoders.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint32]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint32]entry)}
}

// Register adds or replaces the decoder for id.
func (r *Registry) Register(id uint32, name string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry{name: name, decode: decode}
}

func (r *Registry) lookup(id uint32) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Names lists registered constructor names in id order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint32, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].name)
	}
	return out
}

// Codec deserializes message bodies against a Registry.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec that knows the unencrypted handshake constructors.
func NewCodec() *Codec {
	r := NewRegistry()
	RegisterHandshake(r)
	return NewCodecWithRegistry(r)
}

func NewCodecWithRegistry(r *Registry) *Codec {
	return &Codec{registry: r}
}

func (c *Codec) Deserialize(body []byte) (Message, error) {
	d := NewDecoder(body)
	id, err := d.Uint32()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	e, ok := c.registry.lookup(id)
	if !ok {
		log.Debug().Msgf("tl.Deserialize unknown constructor=%#08x len=%d", id, len(body))
		return nil, &DecodeError{Constructor: id, Err: ErrUnknownConstructor}
	}
	msg, err := e.decode(d)
	if err != nil {
		return nil, &DecodeError{Constructor: id, Name: e.name, Err: err}
	}
	return msg, nil
}
