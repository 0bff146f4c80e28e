// Package transport owns raw packet I/O to one Telegram data centre.
//
// A Transport delivers whole packets as delimited by the outer envelope
// framing. ReadPacket returns (nil, nil) when nothing complete arrived within
// the poll window.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed           = errors.New("transport: closed")
	ErrPacketTooLarge   = errors.New("transport: packet too large")
	ErrUnknownDC        = errors.New("transport: unknown data centre")
	ErrInvalidAddress   = errors.New("transport: invalid data centre address")
	ErrUnknownTransport = errors.New("transport: unknown transport kind")
)

const (
	KindTCP       = "tcp"
	KindWebSocket = "websocket"
)

type Transport interface {
	ReadPacket() ([]byte, error)
	WriteBinary(b []byte) error
	DCInfo() DataCentre
	Terminate() error
}

// DataCentre identifies the remote endpoint of a connection.
type DataCentre struct {
	ID   int    `json:"id" toml:"id"`
	IP   string `json:"ip" toml:"ip"`
	Port int    `json:"port" toml:"port"`
	Test bool   `json:"test,omitempty" toml:"test"`
}

func (d DataCentre) Addr() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

func (d DataCentre) String() string {
	return fmt.Sprintf("dc%d(%s)", d.ID, d.Addr())
}

// WebSocketURL is the MTProto-over-websocket endpoint for d.
func (d DataCentre) WebSocketURL() string {
	scheme := "ws"
	if d.Port == 443 {
		scheme = "wss"
	}
	path := "/apiws"
	if d.Test {
		path = "/apiws_test"
	}
	return scheme + "://" + d.Addr() + path
}

var productionDCs = []DataCentre{
	{ID: 1, IP: "149.154.175.53", Port: 443},
	{ID: 2, IP: "149.154.167.51", Port: 443},
	{ID: 3, IP: "149.154.175.100", Port: 443},
	{ID: 4, IP: "149.154.167.91", Port: 443},
	{ID: 5, IP: "91.108.56.130", Port: 443},
}

// DefaultDataCentres returns the production IPv4 endpoint table.
func DefaultDataCentres() []DataCentre {
	out := make([]DataCentre, len(productionDCs))
	copy(out, productionDCs)
	return out
}

func FindDataCentre(id int) (DataCentre, error) {
	for _, dc := range productionDCs {
		if dc.ID == id {
			return dc, nil
		}
	}
	return DataCentre{}, fmt.Errorf("%w: id=%d", ErrUnknownDC, id)
}

// ParseDataCentre builds a descriptor from a host:port address.
func ParseDataCentre(id int, addr string) (DataCentre, error) {
	host, portRaw, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return DataCentre{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return DataCentre{}, fmt.Errorf("%w: port %q", ErrInvalidAddress, portRaw)
	}
	if host == "" {
		return DataCentre{}, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	return DataCentre{ID: id, IP: host, Port: port}, nil
}

// dialWithRetry calls dial until it succeeds, ctx ends, or
// cfg.MaxConnectAttempts is spent. Zero attempts means retry forever.
func dialWithRetry[T any](ctx context.Context, cfg session.Config, dc DataCentre, dial func(context.Context) (T, error)) (T, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		out, err := dial(dialCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		log.Warn().Msgf("transport.dial attempt=%d dc=%s err=%v", attempt, dc, err)
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			var zero T
			return zero, fmt.Errorf("transport: dial %s after %d attempts: %w", dc, attempt, err)
		}
		if err := session.SleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			var zero T
			return zero, err
		}
	}
}
