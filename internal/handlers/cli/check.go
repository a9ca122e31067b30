package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// checkCommand checks one watched address immediately and prints what
// changed. Events are published like a scheduled check.
//
// Usage example:
//
//	addresswatch check --address 0xABC123...
func checkCommand(s Services) *cli.Command {
	return &cli.Command{
		Name:        "check",
		Description: "Fetch a watched address now, compare it with its last snapshot and publish any change.",
		Usage:       "Forces an immediate check of one address.",
		Flags: []cli.Flag{
			addressFlag("Watched EVM address (0x...) to check"),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			checker, err := s.Checker(ctx)
			if err != nil {
				return err
			}

			res, err := checker.CheckNow(ctx, c.String("address"))
			if err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("check %s (%s): %w", res.Address, res.Class, res.Err)
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "%s: %s\n", res.Address, res.Outcome)
			for _, change := range res.Changes {
				if change.Asset == "" {
					fmt.Fprintf(w, "  %s: %s -> %s\n", change.Kind, change.Before, change.After)
					continue
				}
				fmt.Fprintf(w, "  %s %s: %s -> %s (delta %s)\n", change.Asset, change.Kind, change.Before, change.After, change.Delta)
			}
			if res.Published < len(res.Events) {
				fmt.Fprintf(w, "  published %d of %d events\n", res.Published, len(res.Events))
			}
			return nil
		},
	}
}
