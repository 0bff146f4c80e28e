package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tgwire/internal/protocol/envelope"
	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/danmuck/tgwire/internal/transport"
	"github.com/joho/godotenv"
)

const (
	EnvDCID      = "TGWIRE_DC_ID"
	EnvDCAddress = "TGWIRE_DC_ADDRESS"
	EnvTransport = "TGWIRE_TRANSPORT"
	EnvAdminAddr = "TGWIRE_ADMIN_ADDR"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Probe is the resolved configuration for one prober process.
type Probe struct {
	DC              transport.DataCentre
	Transport       string
	Envelope        string
	Session         session.Config
	Interval        time.Duration
	AdminListenAddr string
	CorsOrigins     []string
}

type fileConfig struct {
	DCID                int      `toml:"dc_id"`
	DCAddress           string   `toml:"dc_address"`
	DCTest              bool     `toml:"dc_test"`
	Transport           string   `toml:"transport"`
	Envelope            string   `toml:"envelope"`
	ResponseTimeoutMS   int64    `toml:"response_timeout_ms"`
	ResponsePollDelayUS int64    `toml:"response_poll_delay_us"`
	ReadPollTimeout     string   `toml:"read_poll_timeout"`
	ConnectTimeout      string   `toml:"connect_timeout"`
	MaxConnectAttempts  int      `toml:"max_connect_attempts"`
	ProbeInterval       string   `toml:"probe_interval"`
	AdminListenAddr     string   `toml:"admin_listen_addr"`
	CorsOrigins         []string `toml:"cors_origins"`
}

func Default() Probe {
	dc, _ := transport.FindDataCentre(2)
	return Probe{
		DC:              dc,
		Transport:       transport.KindTCP,
		Envelope:        envelope.NameFull,
		Session:         session.DefaultConfig(),
		Interval:        30 * time.Second,
		AdminListenAddr: "127.0.0.1:7090",
		CorsOrigins:     []string{"http://localhost:3000"},
	}
}

// Load reads .env if present, then the TOML file at path (skipped when
// empty), then environment overrides.
func Load(path string) (Probe, error) {
	_ = godotenv.Load()

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Probe{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Probe{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Probe{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys defined in the TOML file at path onto Default().
func LoadFile(path string) (Probe, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Probe{}, fmt.Errorf("load probe config: %w", err)
	}

	if meta.IsDefined("dc_id") {
		dc, err := transport.FindDataCentre(raw.DCID)
		if err != nil && !meta.IsDefined("dc_address") {
			return Probe{}, fmt.Errorf("parse dc_id: %w", err)
		}
		if err == nil {
			cfg.DC = dc
		}
		cfg.DC.ID = raw.DCID
	}

	if meta.IsDefined("dc_address") {
		dc, err := transport.ParseDataCentre(cfg.DC.ID, raw.DCAddress)
		if err != nil {
			return Probe{}, fmt.Errorf("parse dc_address: %w", err)
		}
		cfg.DC = dc
	}

	if meta.IsDefined("dc_test") {
		cfg.DC.Test = raw.DCTest
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}

	if meta.IsDefined("envelope") {
		cfg.Envelope = strings.ToLower(strings.TrimSpace(raw.Envelope))
	}

	if meta.IsDefined("response_timeout_ms") {
		cfg.Session.ResponseTimeout = time.Duration(raw.ResponseTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("response_poll_delay_us") {
		cfg.Session.ResponsePollDelay = time.Duration(raw.ResponsePollDelayUS) * time.Microsecond
	}

	if meta.IsDefined("read_poll_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadPollTimeout))
		if err != nil {
			return Probe{}, fmt.Errorf("parse read_poll_timeout: %w", err)
		}
		cfg.Session.ReadPollTimeout = d
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Probe{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Session.ConnectTimeout = d
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if meta.IsDefined("probe_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ProbeInterval))
		if err != nil {
			return Probe{}, fmt.Errorf("parse probe_interval: %w", err)
		}
		cfg.Interval = d
	}

	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Probe) error {
	if v := strings.TrimSpace(os.Getenv(EnvDCID)); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvDCID, v)
		}
		if dc, err := transport.FindDataCentre(id); err == nil {
			cfg.DC = dc
		}
		cfg.DC.ID = id
	}
	if v := strings.TrimSpace(os.Getenv(EnvDCAddress)); v != "" {
		dc, err := transport.ParseDataCentre(cfg.DC.ID, v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDCAddress, err)
		}
		dc.Test = cfg.DC.Test
		cfg.DC = dc
	}
	if v := strings.TrimSpace(os.Getenv(EnvTransport)); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAdminAddr)); v != "" {
		cfg.AdminListenAddr = v
	}
	return nil
}

func (p Probe) Validate() error {
	switch p.Transport {
	case transport.KindTCP, transport.KindWebSocket:
	default:
		return fmt.Errorf("%w: %q", transport.ErrUnknownTransport, p.Transport)
	}
	if _, err := envelope.New(p.Envelope); err != nil {
		return err
	}
	if p.Transport == transport.KindWebSocket && p.Envelope != envelope.NameIntermediate {
		return fmt.Errorf("%w: websocket requires the %s envelope", ErrInvalidConfig, envelope.NameIntermediate)
	}
	if p.DC.IP == "" || p.DC.Port <= 0 {
		return fmt.Errorf("%w: no data centre address", ErrInvalidConfig)
	}
	if p.Session.ResponseTimeout < 0 || p.Session.ResponsePollDelay < 0 {
		return fmt.Errorf("%w: negative response timing", ErrInvalidConfig)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: probe_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
