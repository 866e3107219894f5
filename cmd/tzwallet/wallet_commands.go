package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Tracked wallet commands",
		Subcommands: []*cli.Command{
			walletAddCommand(),
			walletRemoveCommand(),
			walletListCommand(),
			walletSelectCommand(),
			walletPreferenceCommand(),
		},
	}
}

func walletAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Track a wallet and schedule its refresh",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "label",
				Aliases: []string{"l"},
				Usage:   "Display label",
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Aliases: []string{"i"},
				Usage:   "How often the worker refreshes the wallet (e.g. 1m, 5m); server default when unset",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()
			interval := c.Duration("refresh-interval")

			if err := newClient(c).Register(c.Context, address, c.String("label"), interval); err != nil {
				return fmt.Errorf("failed to register wallet: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{
					"address":          address,
					"label":            c.String("label"),
					"refresh_interval": interval.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Wallet registered successfully\n")
			fmt.Fprintf(c.App.Writer, "  Address: %s\n", address)
			if interval > 0 {
				fmt.Fprintf(c.App.Writer, "  Refresh interval: %s\n", interval)
			}
			return nil
		},
	}
}

func walletRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "unregister"},
		Usage:     "Stop tracking a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "purge",
				Usage: "Also delete the wallet's cached data",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			if err := newClient(c).Unregister(c.Context, address, c.Bool("purge")); err != nil {
				return fmt.Errorf("failed to unregister wallet: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{"address": address, "removed": true})
			}
			fmt.Fprintf(c.App.Writer, "✓ Wallet unregistered: %s\n", address)
			return nil
		},
	}
}

func walletListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List tracked wallets",
		Action: func(c *cli.Context) error {
			list, err := newClient(c).Wallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, list)
			}
			if len(list.Wallets) == 0 {
				fmt.Fprintln(c.App.Writer, "No wallets tracked")
				return nil
			}
			for _, w := range list.Wallets {
				marker := " "
				if w.Address == list.Selected {
					marker = "*"
				}
				fmt.Fprintf(c.App.Writer, "%s %-36s %s\n", marker, w.Address, w.Label)
			}
			return nil
		},
	}
}

func walletSelectCommand() *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Make a tracked wallet the selected one",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().First()

			if err := newClient(c).Select(c.Context, address); err != nil {
				return fmt.Errorf("failed to select wallet: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]string{"selected": address})
			}
			fmt.Fprintf(c.App.Writer, "✓ Selected %s\n", address)
			return nil
		},
	}
}

func walletPreferenceCommand() *cli.Command {
	return &cli.Command{
		Name:      "prefs",
		Usage:     "Hide or favourite a token",
		ArgsUsage: "CONTRACT:TOKEN_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "hidden", Usage: "Hide the token"},
			&cli.BoolFlag{Name: "favourite", Usage: "Favourite the token"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("token key is required")
			}

			var hidden, favourite *bool
			if c.IsSet("hidden") {
				v := c.Bool("hidden")
				hidden = &v
			}
			if c.IsSet("favourite") {
				v := c.Bool("favourite")
				favourite = &v
			}
			if hidden == nil && favourite == nil {
				return fmt.Errorf("--hidden or --favourite is required")
			}

			if err := newClient(c).SetTokenPreference(c.Context, c.Args().First(), hidden, favourite); err != nil {
				return fmt.Errorf("failed to set token preference: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Preferences updated for %s\n", c.Args().First())
			return nil
		},
	}
}
