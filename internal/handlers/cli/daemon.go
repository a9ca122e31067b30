package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/urfave/cli/v3"
)

// startCommand runs the daemon until SIGINT or SIGTERM.
//
// Usage example:
//
//	addresswatch start
func startCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the address scheduler and the health/metrics HTTP endpoint.",
		Usage:       "Runs the monitor. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := s.Daemon(ctx)
			if err != nil {
				return err
			}

			if err := d.Start(ctx); err != nil {
				return err
			}
			defer d.Close()

			<-ctx.Done()
			return nil
		},
	}
}

// healthCommand queries a running daemon, for container health checks.
//
// Usage example:
//
//	addresswatch health
func healthCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "health",
		Description: "Queries the /healthz endpoint of a running daemon.",
		Usage:       "Exits with a non-zero status unless the daemon is healthy.",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the daemon to answer",
				Value: 5 * time.Second,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			client := transporthttp.NewClient(
				transporthttp.WithTimeout(c.Duration("timeout")),
				transporthttp.WithRetryMax(0),
			)

			req, err := retryablehttp.NewRequestWithContext(ctx, "GET", s.HealthURL(), nil)
			if err != nil {
				return err
			}

			res, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query health: %w", err)
			}
			defer res.Body.Close()

			if err := transporthttp.CheckResponse(res); err != nil {
				return fmt.Errorf("unhealthy: %w", err)
			}

			_, err = fmt.Fprintln(c.Root().Writer, "healthy")
			return err
		},
	}
}
