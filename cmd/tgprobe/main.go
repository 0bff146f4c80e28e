package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tgwire/internal/config"
	"github.com/danmuck/tgwire/internal/logging"
	"github.com/danmuck/tgwire/internal/probe"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tgprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tgprobe", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to TOML config")
	once := fs.Bool("once", false, "run a single probe and exit")
	adminAddr := fs.String("admin", "", "admin API listen address (overrides admin_listen_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *adminAddr != "" {
		cfg.AdminListenAddr = *adminAddr
	}
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := probe.New(cfg)
	if *once {
		return runOnce(ctx, p)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	admin := probe.NewAdmin(p, cfg.CorsOrigins)
	errCh := make(chan error, 1)
	go func() {
		err := admin.Serve(ctx, cfg.AdminListenAddr)
		if err != nil {
			log.Error().Err(err).Msg("tgprobe admin stopped")
		}
		errCh <- err
		cancel()
	}()

	log.Info().Msgf("tgprobe starting dc=%s transport=%s envelope=%s interval=%s",
		cfg.DC, cfg.Transport, cfg.Envelope, cfg.Interval)
	if err := p.Run(ctx); err != nil {
		return err
	}
	cancel()
	return <-errCh
}

func runOnce(ctx context.Context, p *probe.Prober) error {
	res := p.Once(ctx)
	if !res.OK {
		return fmt.Errorf("probe %s failed: %s", res.DC, res.Err)
	}
	fmt.Println(res.Response.DebugString())
	return nil
}
