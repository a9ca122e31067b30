// Package cli is the command-line entrypoint: it runs the daemon and
// manages watched addresses.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/gabapcia/addresswatch/internal/daemon"
	"github.com/gabapcia/addresswatch/internal/monitor"
	"github.com/gabapcia/addresswatch/internal/registry"

	"github.com/urfave/cli/v3"
)

// Checker runs an immediate check of one watched address.
type Checker interface {
	CheckNow(ctx context.Context, address string) (monitor.Result, error)
}

// Services builds what each command needs. Commands only ask for the
// components they use, so "health" never opens storage or dials brokers.
type Services interface {
	Registry(ctx context.Context) (registry.Service, error)
	Checker(ctx context.Context) (Checker, error)
	Daemon(ctx context.Context) (daemon.Service, error)

	// HealthURL is the /healthz URL of a running daemon.
	HealthURL() string
}

type config struct {
	writer io.Writer
}

// Option customizes Run.
type Option func(*config)

// WithOutput sets where command output is written. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// Run parses args and executes the matching command.
//
// Commands:
//
//   - `start`: runs the scheduler and the HTTP endpoint until interrupted.
//   - `watch`, `unwatch`: manage a user's watched addresses.
//   - `interval`, `quota`: set a user's scan settings.
//   - `list`: print a user's watched addresses.
//   - `check`: check one address now.
//   - `health`: exit non-zero unless the running daemon reports healthy.
func Run(ctx context.Context, s Services, args []string, opts ...Option) error {
	cfg := config{writer: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}

	app := &cli.Command{
		Writer:                cfg.writer,
		ErrWriter:             cfg.writer,
		EnableShellCompletion: true,
		Name:                  "addresswatch",
		Description:           "Monitors Hyperliquid addresses for balance and activity changes.",
		Usage:                 "addresswatch [command] [flags]",
		Commands: []*cli.Command{
			startCommand(s),
			healthCommand(s),
			watchCommand(s),
			unwatchCommand(s),
			intervalCommand(s),
			quotaCommand(s),
			listCommand(s),
			checkCommand(s),
		},
	}

	return app.Run(ctx, args)
}
