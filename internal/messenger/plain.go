package messenger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/tgwire/internal/logging"
	"github.com/danmuck/tgwire/internal/observability"
	"github.com/danmuck/tgwire/internal/protocol/envelope"
	"github.com/danmuck/tgwire/internal/protocol/frame"
	"github.com/danmuck/tgwire/internal/protocol/msgid"
	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/danmuck/tgwire/internal/protocol/tl"
	"github.com/danmuck/tgwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Debug record codes.
const (
	CodeReadBinary  = "Read_Message_Binary"
	CodeReadTL      = "Read_Message_TL"
	CodeWriteBinary = "Write_Message_Binary"
	CodeWriteTL     = "Write_Message_TL"
)

type Option func(*Plain)

func WithEnvelope(e Envelope) Option {
	return func(p *Plain) { p.envelope = e }
}

func WithGenerator(g IDGenerator) Option {
	return func(p *Plain) { p.ids = g }
}

func WithCodec(c PayloadCodec) Option {
	return func(p *Plain) { p.codec = c }
}

// WithLogger routes debug records to l instead of the process logger.
func WithLogger(l logging.DebugLogger) Option {
	return func(p *Plain) { p.logger = l }
}

func WithConfig(cfg session.Config) Option {
	return func(p *Plain) { p.cfg = cfg.WithDefaults() }
}

func WithMetrics(m observability.MessengerMetrics) Option {
	return func(p *Plain) { p.metrics = m }
}

// Plain speaks the unencrypted envelope: zero auth_key_id, message id, length.
type Plain struct {
	id        string
	transport transport.Transport
	envelope  Envelope
	ids       IDGenerator
	codec     PayloadCodec
	logger    logging.DebugLogger
	ops       zerolog.Logger
	cfg       session.Config
	metrics   observability.MessengerMetrics

	terminated atomic.Bool
}

var _ Messenger = (*Plain)(nil)

func NewPlain(t transport.Transport, opts ...Option) *Plain {
	p := &Plain{
		id:        uuid.NewString(),
		transport: t,
		cfg:       session.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.envelope == nil {
		p.envelope = envelope.NewFull()
	}
	if p.ids == nil {
		p.ids = msgid.NewGenerator()
	}
	if p.codec == nil {
		p.codec = tl.NewCodec()
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	p.ops = observability.ComponentLogger("messenger").With().
		Str("messenger_id", p.id).
		Int("dc", t.DCInfo().ID).
		Logger()
	return p
}

func (p *Plain) ID() string { return p.id }

func (p *Plain) DCInfo() transport.DataCentre { return p.transport.DCInfo() }

// Terminate closes the transport. Repeated calls return nil.
func (p *Plain) Terminate() error {
	if p.terminated.Swap(true) {
		return nil
	}
	p.ops.Debug().Msg("messenger.Terminate")
	return p.transport.Terminate()
}

// ReadMessage returns (nil, nil) when the transport has no packet ready.
func (p *Plain) ReadMessage() (tl.Message, error) {
	r, err := p.ReadEnvelope()
	return r.Message, err
}

// ReadEnvelope is ReadMessage that also reports the envelope message id.
func (p *Plain) ReadEnvelope() (Received, error) {
	packet, err := p.transport.ReadPacket()
	if err != nil {
		p.metrics.ReadError("transport")
		return Received{}, err
	}
	if len(packet) == 0 {
		return Received{}, nil
	}
	p.metrics.Packet(observability.DirectionRead, len(packet))
	p.logger.DebugLog(CodeReadBinary, hex.EncodeToString(packet))

	payload, err := p.envelope.Unwrap(packet)
	if err != nil {
		p.metrics.ReadError("envelope")
		return Received{}, err
	}
	env, err := frame.DecodeEnvelope(payload)
	if err != nil {
		if errors.Is(err, frame.ErrBadAuthKeyID) {
			p.metrics.ReadError("bad_auth_key_id")
			p.ops.Warn().Err(err).Msg("messenger.ReadEnvelope non-zero auth_key_id in unencrypted mode")
			return Received{}, errors.Join(ErrProtocolViolation, err)
		}
		p.metrics.ReadError("truncated")
		return Received{}, err
	}
	msg, err := p.codec.Deserialize(env.Body)
	if err != nil {
		p.metrics.ReadError("payload")
		return Received{}, err
	}

	p.logger.DebugLog(CodeReadBinary, hex.EncodeToString(env.Body))
	p.logger.DebugLog(CodeReadTL, msg.DebugString())
	return Received{MessageID: env.MessageID, Message: msg}, nil
}

func (p *Plain) WriteMessage(msg tl.ClientMessage) error {
	body := msg.ToBinary()
	id := p.ids.Next()
	packet := p.envelope.Wrap(frame.Encode(body, id))
	if err := p.transport.WriteBinary(packet); err != nil {
		return fmt.Errorf("messenger: write msg_id=%d: %w", id, err)
	}
	p.metrics.Packet(observability.DirectionWrite, len(packet))

	p.logger.DebugLog(CodeWriteBinary, hex.EncodeToString(body))
	p.logWritten(id, body)
	return nil
}

// logWritten re-decodes an already sent body for the debug log. Failures
// are logged and swallowed.
func (p *Plain) logWritten(id uint64, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.ops.Warn().Msgf("messenger.WriteMessage debug decode panic msg_id=%d: %v", id, r)
		}
	}()
	decoded, err := p.codec.Deserialize(body)
	if err != nil {
		p.ops.Warn().Err(err).Msgf("messenger.WriteMessage debug decode failed msg_id=%d", id)
		return
	}
	p.logger.DebugLog(CodeWriteTL, decoded.DebugString())
}

// GetResponseAsync writes msg once and hands the first message read within
// the response budget to onResponse. The message is not checked against the
// request.
func (p *Plain) GetResponseAsync(msg tl.ClientMessage, onResponse func(tl.Message)) error {
	return p.await(msg, nil, onResponse)
}

// GetResponseMatching is GetResponseAsync that skips messages match rejects.
func (p *Plain) GetResponseMatching(msg tl.ClientMessage, match func(tl.Message) bool, onResponse func(tl.Message)) error {
	return p.await(msg, match, onResponse)
}

func (p *Plain) GetResponseConsecutive(msgs []tl.ClientMessage, onLastResponse func(tl.Message)) error {
	return fmt.Errorf("%w: GetResponseConsecutive", ErrNotImplemented)
}

// TODO: swap the poll-and-sleep loop for a readiness channel on Transport
// once both transports expose one.
func (p *Plain) await(msg tl.ClientMessage, match func(tl.Message) bool, onResponse func(tl.Message)) error {
	if err := p.WriteMessage(msg); err != nil {
		return err
	}

	start := time.Now()
	for {
		resp, err := p.ReadMessage()
		if err != nil {
			p.metrics.ResponseWait("error", time.Since(start))
			return err
		}
		if resp != nil {
			if match == nil || match(resp) {
				p.metrics.ResponseWait("ok", time.Since(start))
				if onResponse != nil {
					onResponse(resp)
				}
				return nil
			}
			p.ops.Debug().Msgf("messenger.await skipping unmatched %s", resp.TypeName())
		}

		if time.Since(start) > p.cfg.ResponseTimeout {
			break
		}
		time.Sleep(p.cfg.ResponsePollDelay)
	}

	p.metrics.ResponseWait("timeout", time.Since(start))
	p.ops.Warn().Msgf("messenger.await no response within %s", p.cfg.ResponseTimeout)
	return fmt.Errorf("%w: waited %s", ErrResponseTimeout, p.cfg.ResponseTimeout)
}
