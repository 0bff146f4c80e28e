package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config holds the process-wide transport and response-wait settings.
type Config struct {
	ConnectTimeout     time.Duration
	ReadPollTimeout    time.Duration
	WriteTimeout       time.Duration
	ResponseTimeout    time.Duration
	ResponsePollDelay  time.Duration
	MaxPacketBytes     int
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

const (
	// DefaultResponseTimeoutMS bounds one GetResponseAsync wait.
	DefaultResponseTimeoutMS = 5000
	// DefaultResponsePollDelayMicros is the sleep between empty reads.
	DefaultResponsePollDelayMicros = 50000
)

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		ReadPollTimeout:    50 * time.Millisecond,
		WriteTimeout:       5 * time.Second,
		ResponseTimeout:    DefaultResponseTimeoutMS * time.Millisecond,
		ResponsePollDelay:  DefaultResponsePollDelayMicros * time.Microsecond,
		MaxPacketBytes:     16 << 20,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadPollTimeout <= 0 {
		c.ReadPollTimeout = d.ReadPollTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.ResponsePollDelay <= 0 {
		c.ResponsePollDelay = d.ResponsePollDelay
	}
	if c.MaxPacketBytes <= 0 {
		c.MaxPacketBytes = d.MaxPacketBytes
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
