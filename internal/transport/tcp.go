package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tgwire/internal/protocol/envelope"
	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const readChunk = 32 * 1024

// TCP reads length-prefixed packets from a stream connection. Reads and
// writes may run on separate goroutines, but not two reads at once.
type TCP struct {
	conn  net.Conn
	dc    DataCentre
	sizer envelope.Sizer
	cfg   session.Config

	pending []byte
	scratch []byte

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, dc DataCentre, sizer envelope.Sizer, cfg session.Config) *TCP {
	return &TCP{
		conn:    conn,
		dc:      dc,
		sizer:   sizer,
		cfg:     cfg.WithDefaults(),
		scratch: make([]byte, readChunk),
	}
}

// DialTCP connects to dc and sends the codec preamble, if any.
func DialTCP(ctx context.Context, dc DataCentre, codec envelope.Sizer, cfg session.Config) (*TCP, error) {
	cfg = cfg.WithDefaults()
	conn, err := dialWithRetry(ctx, cfg, dc, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", dc.Addr())
	})
	if err != nil {
		return nil, err
	}
	t := NewConn(conn, dc, codec, cfg)
	if p, ok := codec.(envelope.Preambler); ok {
		if err := t.WriteBinary(p.Preamble()); err != nil {
			_ = t.Terminate()
			return nil, fmt.Errorf("transport: write preamble: %w", err)
		}
	}
	log.Debug().Msgf("transport.DialTCP connected dc=%s local=%s", dc, conn.LocalAddr())
	return t, nil
}

func (t *TCP) DCInfo() DataCentre { return t.dc }

func (t *TCP) ReadPacket() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if pkt, err := t.nextPacket(); pkt != nil || err != nil {
		return pkt, err
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadPollTimeout)); err != nil {
		return nil, err
	}
	for {
		n, err := t.conn.Read(t.scratch)
		if n > 0 {
			t.pending = append(t.pending, t.scratch[:n]...)
			if pkt, perr := t.nextPacket(); pkt != nil || perr != nil {
				return pkt, perr
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}
			if t.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
	}
}

// nextPacket slices one complete packet off the pending buffer.
func (t *TCP) nextPacket() ([]byte, error) {
	if len(t.pending) < 4 {
		return nil, nil
	}
	size, err := t.sizer.PacketSize(binary.LittleEndian.Uint32(t.pending[:4]))
	if err != nil {
		return nil, err
	}
	if size > t.cfg.MaxPacketBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, size, t.cfg.MaxPacketBytes)
	}
	if len(t.pending) < size {
		return nil, nil
	}
	pkt := make([]byte, size)
	copy(pkt, t.pending[:size])
	t.pending = append(t.pending[:0], t.pending[size:]...)
	return pkt, nil
}

func (t *TCP) WriteBinary(b []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

// Terminate closes the connection. Calls after the first are no-ops.
func (t *TCP) Terminate() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
	})
	return err
}
