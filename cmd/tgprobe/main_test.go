package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/danmuck/tgwire/internal/config"
	"github.com/danmuck/tgwire/internal/testutil/testlog"
)

func TestRunRejectsUnknownFlag(t *testing.T) {
	testlog.Start(t)
	if err := run([]string{"-nope"}); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	testlog.Start(t)
	missing := filepath.Join(t.TempDir(), "missing.toml")
	if err := run([]string{"-config", missing, "-once"}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestRunOnceFailsWhenDCUnreachable(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	t.Setenv(config.EnvDCAddress, addr)
	t.Setenv(config.EnvTransport, "tcp")
	if err := run([]string{"-once"}); err == nil {
		t.Fatalf("expected probe failure")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	testlog.Start(t)
	cfg, err := config.LoadFile("ex.config.toml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate example: %v", err)
	}
	if cfg.DC.ID != 2 || cfg.AdminListenAddr != "127.0.0.1:7090" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}
