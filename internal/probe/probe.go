package probe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/tgwire/internal/config"
	"github.com/danmuck/tgwire/internal/logging"
	"github.com/danmuck/tgwire/internal/messenger"
	"github.com/danmuck/tgwire/internal/observability"
	"github.com/danmuck/tgwire/internal/protocol/envelope"
	"github.com/danmuck/tgwire/internal/protocol/tl"
	"github.com/danmuck/tgwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnexpectedResponse = errors.New("probe: unexpected response")

// Result is the outcome of one req_pq_multi round trip.
type Result struct {
	RunID        string               `json:"run_id"`
	DC           transport.DataCentre `json:"dc"`
	OK           bool                 `json:"ok"`
	Latency      time.Duration        `json:"latency_ns"`
	Err          string               `json:"error,omitempty"`
	Fingerprints []int64              `json:"fingerprints,omitempty"`
	At           time.Time            `json:"at"`

	Response *tl.ResPQ `json:"-"`
}

// Dialer opens a transport to dc framed for codec.
type Dialer func(ctx context.Context, cfg config.Probe, codec envelope.Codec) (transport.Transport, error)

type Option func(*Prober)

func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.dial = d }
}

// WithDebugLogger receives the messenger debug records of every probe.
func WithDebugLogger(l logging.DebugLogger) Option {
	return func(p *Prober) { p.debug = l }
}

type Prober struct {
	cfg   config.Probe
	dial  Dialer
	debug logging.DebugLogger
	log   zerolog.Logger

	mu      sync.RWMutex
	results map[int]Result
}

func New(cfg config.Probe, opts ...Option) *Prober {
	p := &Prober{
		cfg:     cfg,
		dial:    Dial,
		log:     observability.ComponentLogger("probe"),
		results: make(map[int]Result),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.debug == nil {
		p.debug = logging.NewZerolog(p.log)
	}
	return p
}

// Dial connects with the transport kind named in cfg.
func Dial(ctx context.Context, cfg config.Probe, codec envelope.Codec) (transport.Transport, error) {
	switch cfg.Transport {
	case transport.KindTCP, "":
		return transport.DialTCP(ctx, cfg.DC, codec, cfg.Session)
	case transport.KindWebSocket:
		return transport.DialWebSocket(ctx, cfg.DC, cfg.Session)
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownTransport, cfg.Transport)
	}
}

// Once runs a single probe and records its result.
func (p *Prober) Once(ctx context.Context) Result {
	res := Result{
		RunID: uuid.NewString(),
		DC:    p.cfg.DC,
		At:    time.Now(),
	}
	resp, err := p.exchange(ctx)
	res.Latency = time.Since(res.At)
	if err != nil {
		res.Err = err.Error()
		p.log.Warn().Err(err).Str("run_id", res.RunID).Msgf("probe.Once failed dc=%s", res.DC)
	} else {
		res.OK = true
		res.Response = resp
		res.Fingerprints = resp.Fingerprints
		p.log.Info().Str("run_id", res.RunID).Dur("latency", res.Latency).Msgf("probe.Once ok dc=%s", res.DC)
	}

	observability.RecordProbe(res.DC.ID, res.OK, res.Latency)
	p.mu.Lock()
	p.results[res.DC.ID] = res
	p.mu.Unlock()
	return res
}

func (p *Prober) exchange(ctx context.Context) (*tl.ResPQ, error) {
	codec, err := envelope.New(p.cfg.Envelope)
	if err != nil {
		return nil, err
	}
	conn, err := p.dial(ctx, p.cfg, codec)
	if err != nil {
		return nil, err
	}

	m := messenger.NewPlain(conn,
		messenger.WithEnvelope(codec),
		messenger.WithConfig(p.cfg.Session),
		messenger.WithLogger(p.debug),
		messenger.WithMetrics(observability.NewMessengerMetrics(p.cfg.DC.ID)),
	)
	defer func() {
		if err := m.Terminate(); err != nil {
			p.log.Debug().Err(err).Msg("probe.exchange terminate")
		}
	}()

	var nonce tl.Int128
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("probe: nonce: %w", err)
	}

	var got *tl.ResPQ
	err = m.GetResponseMatching(&tl.ReqPQMulti{Nonce: nonce},
		func(msg tl.Message) bool {
			res, ok := msg.(*tl.ResPQ)
			return ok && res.Nonce == nonce
		},
		func(msg tl.Message) { got = msg.(*tl.ResPQ) },
	)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, ErrUnexpectedResponse
	}
	return got, nil
}

// Run probes immediately and then every cfg.Interval until ctx ends.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		return fmt.Errorf("%w: probe interval %s", config.ErrInvalidConfig, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Once(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Last returns the most recent result for dcID.
func (p *Prober) Last(dcID int) (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.results[dcID]
	return res, ok
}

// Results returns the latest result per data centre ordered by DC id.
func (p *Prober) Results() []Result {
	p.mu.RLock()
	out := make([]Result, 0, len(p.results))
	for _, res := range p.results {
		out = append(out, res)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DC.ID < out[j].DC.ID })
	return out
}
