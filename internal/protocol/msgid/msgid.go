// Package msgid generates MTProto client message identifiers.
//
// An id carries unix seconds in the upper 32 bits and the sub-second
// fraction scaled to 2^32 in the lower bits. Client ids are divisible by 4.
package msgid

import (
	"sync"
	"time"
)

type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithOffset shifts generated ids by a server time correction.
func WithOffset(d time.Duration) Option {
	return func(g *Generator) {
		g.offset = d
	}
}

// Generator yields strictly increasing ids. It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	now    func() time.Time
	offset time.Duration
	last   uint64
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := FromTime(g.now().Add(g.offset))
	if id <= g.last {
		id = g.last + 4
	}
	g.last = id
	return id
}

// FromTime encodes t without the monotonic adjustment.
func FromTime(t time.Time) uint64 {
	secs := uint64(t.Unix())
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return (secs<<32 | frac) &^ 3
}

// Time decodes the timestamp carried by id.
func Time(id uint64) time.Time {
	secs := int64(id >> 32)
	nanos := int64((id & 0xFFFFFFFF) * uint64(time.Second) >> 32)
	return time.Unix(secs, nanos)
}
