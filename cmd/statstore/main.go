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
	"github.com/thobiasn/statpipe/internal/notify"
	"github.com/thobiasn/statpipe/internal/storesrv"
)

func main() {
	fs := flag.NewFlagSet("statstore", flag.ExitOnError)
	configPath := fs.String("config", "/etc/statpipe/statstore.toml", "path to config file")
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadStorageConfig(*configPath)
	if err != nil {
		slog.Error("statstore: failed to load config", "error", err)
		os.Exit(1)
	}

	notifier := notify.New(cfg.Notify)
	defer notifier.Stop()

	srv := storesrv.New(cfg.Storage.BaseDir, notifier)
	if err := srv.Start(cfg.Listen.Address); err != nil {
		slog.Error("statstore: failed to start listener", "error", err)
		notifier.Send("statstore: failed to start listener", err.Error())
		notifier.Stop()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("statstore: starting", "config", *configPath, "listen", cfg.Listen.Address, "base_dir", cfg.Storage.BaseDir)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "statstore: %v\n", err)
		notifier.Send("statstore: fatal error", err.Error())
		notifier.Stop()
		os.Exit(1)
	}
}
