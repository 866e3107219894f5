package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/tzwallet/service/temporal"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// newTemporalClient dials Temporal with the global connection flags.
func newTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger",
		Usage:     "Run a wallet's refresh schedule now",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.TriggerWalletSchedule(c.Context, address); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Triggered refresh schedule for %s\n", address)
			return nil
		},
	}
}

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "upsert",
		Usage:     "Create or update a wallet's refresh schedule",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Refresh interval",
				Value:   time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			if err := tezos.ValidateAddress(address); err != nil {
				return err
			}

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertWalletSchedule(c.Context, address, c.Duration("interval")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule for %s refreshes every %s\n", address, c.Duration("interval"))
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a wallet's refresh schedule",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteWalletSchedule(c.Context, address); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Deleted refresh schedule for %s\n", address)
			return nil
		},
	}
}

func runRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute one refresh workflow and wait for its result",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Refresh type",
				Value: string(tezos.RefreshEverything),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			refreshType, ok := tezos.ParseRefreshType(c.String("type"))
			if !ok {
				return fmt.Errorf("invalid refresh type %q", c.String("type"))
			}

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			run, err := tc.SDKClient().ExecuteWorkflow(c.Context, client.StartWorkflowOptions{
				ID:        fmt.Sprintf("refresh-wallet-manual-%s-%d", address, time.Now().Unix()),
				TaskQueue: tc.TaskQueue(),
			}, temporal.RefreshWalletWorkflow, temporal.RefreshWalletInput{
				Address:     address,
				RefreshType: refreshType,
			})
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}

			var result temporal.RefreshWalletResult
			if err := run.Get(c.Context, &result); err != nil {
				return fmt.Errorf("workflow %s failed: %w", run.GetID(), err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, result)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Workflow:     %s\n", run.GetID())
			fmt.Fprintf(w, "Groups:       %d (%d pending)\n", result.TransactionGroups, result.PendingGroups)
			fmt.Fprintf(w, "Tokens:       %d\n", result.Tokens)
			fmt.Fprintf(w, "Collections:  %d\n", result.Collections)
			fmt.Fprintf(w, "Total (XTZ):  %s\n", result.EstimatedTotalXTZ)
			if result.Error != nil {
				fmt.Fprintf(w, "Error:        %s\n", *result.Error)
			}
			return nil
		},
	}
}
