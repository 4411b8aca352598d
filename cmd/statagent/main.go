package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thobiasn/statpipe/internal/config"
	"github.com/thobiasn/statpipe/internal/orch"
)

func main() {
	fs := flag.NewFlagSet("statagent", flag.ExitOnError)
	configPath := fs.String("config", "/etc/statpipe/statagent.toml", "path to config file")
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		slog.Error("statagent: failed to load config", "error", err)
		os.Exit(1)
	}

	oc := orch.Config{
		BaseDir:        cfg.Watch.BaseDir,
		WatchInterval:  cfg.Watch.WatchInterval.Duration,
		Filter:         orch.NewPrefixFilter(cfg.Watch.IncludePrefixes, cfg.Watch.ExcludePrefixes),
		Ftype:          cfg.Merge.Ftype,
		Freqs:          cfg.Merge.Freqs,
		PeriodCount:    cfg.Merge.PeriodCount,
		ForwardAddress: cfg.Forward.Address,
		DialTimeout:    cfg.Forward.DialTimeout.Duration,
		BatchSize:      cfg.Forward.BatchSize,
		ReportInterval: cfg.Meta.ReportInterval.Duration,
	}
	oc.TailCfg.StatCheckInterval = cfg.Watch.StatCheckInterval.Duration
	oc.TailCfg.IoRetries = cfg.Watch.IoRetries
	o := orch.New(oc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("statagent: starting", "config", *configPath, "base_dir", cfg.Watch.BaseDir, "forward", cfg.Forward.Address)
	if err := o.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "statagent: %v\n", err)
		os.Exit(1)
	}
}
