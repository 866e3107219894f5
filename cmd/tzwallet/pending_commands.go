package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/tzwallet/client"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/urfave/cli/v2"
)

func pendingCommands() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Pending operation commands",
		Subcommands: []*cli.Command{
			pendingListCommand(),
			pendingAddCommand(),
			pendingAwaitCommand(),
		},
	}
}

func pendingListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List addresses with unconfirmed operations",
		Action: func(c *cli.Context) error {
			addresses, err := newClient(c).PendingAddresses(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list pending addresses: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, addresses)
			}
			if len(addresses) == 0 {
				fmt.Fprintln(c.App.Writer, "No pending operations")
				return nil
			}
			for _, address := range addresses {
				fmt.Fprintln(c.App.Writer, address)
			}
			return nil
		},
	}
}

func pendingAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Record a broadcast operation as pending",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Record a single broadcast operation so it shows up as pending until the
explorer confirms it.

Example:
  tzwallet pending add tz1... --op-hash oo... --type send --to tz1... --amount 1.5`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "op-hash",
				Aliases:  []string{"o"},
				Usage:    "Operation hash returned by the node",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Operation type: send, delegate, contractCall, exchange",
				Value: string(tezos.SubTypeSend),
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Destination address (baker for delegations)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "XTZ amount, e.g. 1.5",
			},
			&cli.Int64Flag{
				Name:  "counter",
				Usage: "Operation counter",
			},
			&cli.StringFlag{
				Name:  "entrypoint",
				Usage: "Entrypoint for contract calls",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			op := client.PendingOperation{
				OpHash:  c.String("op-hash"),
				Counter: c.Int64("counter"),
				PendingLeg: client.PendingLeg{
					Type:        tezos.TransactionSubType(c.String("type")),
					Destination: tezos.Alias{Address: c.String("to")},
					XTZAmount:   c.String("amount"),
				},
			}
			if entrypoint := c.String("entrypoint"); entrypoint != "" {
				op.Parameters = map[string]string{"entrypoint": entrypoint}
			}

			if err := newClient(c).AddPending(c.Context, address, op); err != nil {
				return fmt.Errorf("failed to record pending operation: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, op)
			}
			fmt.Fprintf(c.App.Writer, "✓ Pending operation recorded\n")
			fmt.Fprintf(c.App.Writer, "  Wallet:  %s\n", address)
			fmt.Fprintf(c.App.Writer, "  Op hash: %s\n", op.OpHash)
			return nil
		},
	}
}

func pendingAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a pending operation to be confirmed",
		ArgsUsage: "WALLET_ADDRESS OP_HASH",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to poll the server",
				Value:   10 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait before giving up",
				Value:   10 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("wallet address and operation hash are required")
			}
			address, opHash := c.Args().Get(0), c.Args().Get(1)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			group, err := newClient(c).Await(ctx, address, opHash, c.Duration("interval"))
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s waiting for %s", c.Duration("timeout"), opHash)
			}
			if group == nil {
				return err
			}

			if c.Bool("json") {
				if jsonErr := printJSON(c.App.Writer, group); jsonErr != nil {
					return jsonErr
				}
			} else if err == nil {
				fmt.Fprintf(c.App.Writer, "✓ Operation %s confirmed (%s)\n", opHash, group.Status)
			}
			return err
		},
	}
}
