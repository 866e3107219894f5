package main

import (
	"fmt"

	"github.com/brojonat/tzwallet/client"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/urfave/cli/v2"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Account snapshot commands",
		Subcommands: []*cli.Command{
			accountGetCommand(),
			accountRefreshCommand(),
			accountPurgeCommand(),
		},
	}
}

func accountGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the cached snapshot of an account",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Usage:   "Fiat currency for the estimated total (e.g. usd, eur)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			snap, err := newClient(c).GetAccount(c.Context, c.Args().First(), c.String("currency"))
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, snap)
			}
			printSnapshot(c, snap)
			return nil
		},
	}
}

func accountRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Refresh an account from the upstream feeds",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Refresh type: refreshEverything, refreshEverythingIfStale, refreshAccountOnly",
				Value:   string(tezos.RefreshEverything),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			refreshType, ok := tezos.ParseRefreshType(c.String("type"))
			if !ok {
				return fmt.Errorf("invalid refresh type %q", c.String("type"))
			}

			snap, refreshErr := newClient(c).Refresh(c.Context, c.Args().First(), refreshType)
			if snap == nil {
				return fmt.Errorf("failed to refresh account: %w", refreshErr)
			}

			if c.Bool("json") {
				if err := printJSON(c.App.Writer, snap); err != nil {
					return err
				}
			} else {
				printSnapshot(c, snap)
			}
			if refreshErr != nil {
				return fmt.Errorf("refresh completed with errors: %w", refreshErr)
			}
			return nil
		},
	}
}

func accountPurgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "Delete every cached file for an account",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			if err := newClient(c).PurgeCache(c.Context, address); err != nil {
				return fmt.Errorf("failed to purge cache: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{"address": address, "purged": true})
			}
			fmt.Fprintf(c.App.Writer, "✓ Cache purged for %s\n", address)
			return nil
		},
	}
}

func printSnapshot(c *cli.Context, snap *client.AccountSnapshot) {
	w := c.App.Writer
	acc := snap.Account

	fmt.Fprintf(w, "Account: %s\n", acc.WalletAddress)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Balance:      %s XTZ\n", acc.XTZBalance.Normalised().String())
	if acc.Delegate != nil {
		fmt.Fprintf(w, "Delegate:     %s\n", acc.Delegate.Address)
	}
	fmt.Fprintf(w, "Tokens:       %d\n", len(acc.Tokens))
	fmt.Fprintf(w, "Collections:  %d\n", len(acc.NFTs))
	fmt.Fprintf(w, "Total (XTZ):  %s\n", snap.EstimatedTotalXTZ.String())
	if snap.EstimatedTotalFiat != nil {
		fmt.Fprintf(w, "Total (%s): %s\n", snap.Currency, snap.EstimatedTotalFiat.StringFixed(2))
	}
	if snap.Stale {
		fmt.Fprintf(w, "Stale:        yes\n")
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", snap.Error)
	}

	for _, token := range acc.Tokens {
		if token.IsHidden {
			continue
		}
		fav := " "
		if token.IsFavourite {
			fav = "★"
		}
		fmt.Fprintf(w, "  %s %-12s %s\n", fav, token.Symbol, token.Balance.Normalised().String())
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txns"},
		Usage:     "List pending and confirmed operation groups",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `List an account's operation groups, pending groups first.

Groups can be filtered with one or more jq expressions; a group is shown only
when every filter yields a truthy result.

Example:
  tzwallet transactions tz1... --refresh --jq '.status == "applied"' --jq '.group_type == "send"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Reload history from the explorer first",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each group (repeatable)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of groups to show (0 for all)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			codes, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			list, err := newClient(c).Transactions(c.Context, c.Args().First(), c.Bool("refresh"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			groups := make([]tezos.TzKTTransactionGroup, 0, len(list.Groups))
			for _, g := range list.Groups {
				ok, err := matchJQ(codes, g)
				if err != nil {
					return fmt.Errorf("jq filter failed on group %s: %w", g.Hash, err)
				}
				if !ok {
					continue
				}
				groups = append(groups, g)
				if limit := c.Int("limit"); limit > 0 && len(groups) == limit {
					break
				}
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, groups)
			}

			w := c.App.Writer
			if len(groups) == 0 {
				fmt.Fprintln(w, "No transactions found")
				return nil
			}
			fmt.Fprintf(w, "%-52s %-13s %-12s %s\n", "HASH", "TYPE", "STATUS", "OPS")
			for _, g := range groups {
				fmt.Fprintf(w, "%-52s %-13s %-12s %d\n", g.Hash, g.GroupType, g.Status, len(g.Transactions))
			}
			fmt.Fprintf(w, "\n%d group(s), %d pending\n", len(groups), list.Pending)
			return nil
		},
	}
}
