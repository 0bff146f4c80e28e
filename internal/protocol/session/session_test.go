package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/tgwire/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 10; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < 50*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("attempt%d out of jitter bounds: %v", attempt, got)
		}
	}
}

func TestDefaultConfigMatchesResponseConstants(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if cfg.ResponseTimeout != 5*time.Second {
		t.Fatalf("unexpected response timeout: %v", cfg.ResponseTimeout)
	}
	if cfg.ResponsePollDelay != 50*time.Millisecond {
		t.Fatalf("unexpected poll delay: %v", cfg.ResponsePollDelay)
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ResponseTimeout: 200 * time.Millisecond}.WithDefaults()
	if cfg.ResponseTimeout != 200*time.Millisecond {
		t.Fatalf("explicit response timeout overwritten: %v", cfg.ResponseTimeout)
	}
	if cfg.ResponsePollDelay != DefaultConfig().ResponsePollDelay {
		t.Fatalf("poll delay not defaulted: %v", cfg.ResponsePollDelay)
	}
	if cfg.MaxPacketBytes != 16<<20 {
		t.Fatalf("max packet not defaulted: %d", cfg.MaxPacketBytes)
	}
}
