// Command addresswatch monitors Hyperliquid addresses and notifies their
// watchers of balance and activity changes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gabapcia/addresswatch/internal/config"
	"github.com/gabapcia/addresswatch/internal/handlers/cli"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/telemetry"
)

const serviceName = "addresswatch"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, telemetry.WithOTLP(cfg.OTELEnabled))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}()

	if err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	s := newServices(cfg)
	defer s.Close(ctx)

	return cli.Run(ctx, s, os.Args)
}
