package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

func userFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "user",
		Usage:    "ID of the user owning the registration",
		Required: true,
	}
}

func addressFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:     "address",
		Usage:    usage,
		Required: true,
	}
}

// watchCommand registers an address for a user.
//
// Usage example:
//
//	addresswatch watch --user 42 --address 0xABC123... --label treasury
func watchCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "watch",
		Description: "Register an address to be monitored for balance and activity changes.",
		Usage:       "Starts watching an address for a user, within the user's quota.",
		Flags: []cli.Flag{
			userFlag(),
			addressFlag("EVM address (0x...) to start watching"),
			&cli.StringFlag{
				Name:  "label",
				Usage: "Optional name shown in notifications",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := s.Registry(ctx)
			if err != nil {
				return err
			}

			rec, err := r.RegisterAddress(ctx, c.Int64("user"), c.String("address"), c.String("label"))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(c.Root().Writer, "watching %s for user %d\n", rec.Address, rec.UserID)
			return err
		},
	}
}

// unwatchCommand removes a user's registration.
//
// Usage example:
//
//	addresswatch unwatch --user 42 --address 0xABC123...
func unwatchCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "unwatch",
		Description: "Unregister an address. Its last snapshot is kept.",
		Usage:       "Stops watching an address for a user.",
		Flags: []cli.Flag{
			userFlag(),
			addressFlag("EVM address (0x...) to stop watching"),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := s.Registry(ctx)
			if err != nil {
				return err
			}

			return r.RemoveAddress(ctx, c.Int64("user"), c.String("address"))
		},
	}
}

// intervalCommand sets how often a user's addresses are scanned.
//
// Usage example:
//
//	addresswatch interval --user 42 --every 30s
func intervalCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "interval",
		Description: "Set the scan interval of every address a user watches. Minimum 10s.",
		Usage:       "Overrides a user's scan interval.",
		Flags: []cli.Flag{
			userFlag(),
			&cli.DurationFlag{
				Name:     "every",
				Usage:    "Scan interval, e.g. 30s or 5m",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := s.Registry(ctx)
			if err != nil {
				return err
			}

			return r.SetInterval(ctx, c.Int64("user"), c.Duration("every"))
		},
	}
}

// quotaCommand sets how many addresses a user may watch.
//
// Usage example:
//
//	addresswatch quota --user 42 --max 50
func quotaCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "quota",
		Description: "Set how many addresses a user may watch at once.",
		Usage:       "Overrides a user's address quota.",
		Flags: []cli.Flag{
			userFlag(),
			&cli.IntFlag{
				Name:     "max",
				Usage:    "Maximum number of watched addresses",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := s.Registry(ctx)
			if err != nil {
				return err
			}

			return r.SetQuota(ctx, c.Int64("user"), c.Int("max"))
		},
	}
}

// listCommand prints a user's registrations.
//
// Usage example:
//
//	addresswatch list --user 42
func listCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "list",
		Description: "Print the addresses a user watches and the user's scan settings.",
		Usage:       "Lists a user's watched addresses.",
		Flags:       []cli.Flag{userFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			r, err := s.Registry(ctx)
			if err != nil {
				return err
			}

			records, cfg, err := r.List(ctx, c.Int64("user"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "interval: %s\tquota: %d/%d\n", cfg.Interval, len(records), cfg.Quota)
			fmt.Fprintln(w, "ADDRESS\tLABEL\tSINCE")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Address, rec.Label, rec.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}
