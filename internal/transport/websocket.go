package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket carries one packet per binary websocket message. A reader
// goroutine owns the connection's read side for its whole life.
type WebSocket struct {
	conn *websocket.Conn
	dc   DataCentre
	cfg  session.Config

	packets chan []byte
	done    chan struct{}

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

func NewWebSocket(conn *websocket.Conn, dc DataCentre, cfg session.Config) *WebSocket {
	cfg = cfg.WithDefaults()
	conn.SetReadLimit(int64(cfg.MaxPacketBytes))
	w := &WebSocket{
		conn:    conn,
		dc:      dc,
		cfg:     cfg,
		packets: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// DialWebSocket connects to dc.WebSocketURL().
func DialWebSocket(ctx context.Context, dc DataCentre, cfg session.Config) (*WebSocket, error) {
	cfg = cfg.WithDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		Subprotocols:     []string{"binary"},
	}
	conn, err := dialWithRetry(ctx, cfg, dc, func(ctx context.Context) (*websocket.Conn, error) {
		c, _, err := dialer.DialContext(ctx, dc.WebSocketURL(), nil)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("transport.DialWebSocket connected dc=%s url=%s", dc, dc.WebSocketURL())
	return NewWebSocket(conn, dc, cfg), nil
}

func (w *WebSocket) readLoop() {
	defer close(w.packets)
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			w.setErr(err)
			return
		}
		if typ != websocket.BinaryMessage {
			log.Debug().Msgf("transport.WebSocket dropping non-binary message type=%d dc=%s", typ, w.dc)
			continue
		}
		select {
		case w.packets <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.readErr == nil {
		w.readErr = err
	}
}

func (w *WebSocket) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readErr
}

func (w *WebSocket) DCInfo() DataCentre { return w.dc }

func (w *WebSocket) ReadPacket() ([]byte, error) {
	select {
	case <-w.done:
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(w.cfg.ReadPollTimeout)
	defer timer.Stop()
	select {
	case pkt, ok := <-w.packets:
		if !ok {
			if err := w.err(); err != nil {
				return nil, fmt.Errorf("transport: websocket read: %w", err)
			}
			return nil, ErrClosed
		}
		return pkt, nil
	case <-w.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	}
}

func (w *WebSocket) WriteBinary(b []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Terminate sends a close frame and closes the connection once.
func (w *WebSocket) Terminate() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = w.conn.Close()
	})
	return err
}
