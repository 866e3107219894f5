package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/tzwallet/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams wallet events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to pending and account events for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Subscribe to real-time wallet events published to NATS JetStream.

Events are published to:
  wallet.pending.{wallet_address}  pending operations added, confirmed, failed or expired
  wallet.account.{wallet_address}  account snapshots committed by a refresh

Example:
  tzwallet nats subscribe tz1... --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "tzwallet-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			return streamWalletEvents(c, c.Args().First())
		},
	}
}

func streamWalletEvents(c *cli.Context, address string) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")
	w := c.App.Writer

	nc, err := natspkg.Connect(natsURL, "tzwallet-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.WalletSubjects(address)
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("all") {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(w, "   NATS: %s\n", natsURL)
		fmt.Fprintf(w, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if err := printEvent(c, msg.Subject(), msg.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			_ = msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(w, "\n✅ Received %d event(s)\n", count)
			}
			return nil
		}
	}
}

func printEvent(c *cli.Context, subject string, data []byte) error {
	w := c.App.Writer
	if c.Bool("json") {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}

	if strings.HasPrefix(subject, natspkg.PendingSubject("")) {
		var event natspkg.PendingEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Fprintf(w, "[%s] pending %-9s %s (remaining %d)\n",
			event.PublishedAt.Format(time.RFC3339), event.Kind, event.OpHash, event.Remaining)
		if event.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", event.Error)
		}
		return nil
	}

	var event natspkg.AccountEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	fmt.Fprintf(w, "[%s] account %s balance=%s total=%s tokens=%d nfts=%d\n",
		event.PublishedAt.Format(time.RFC3339), event.RefreshType, event.XTZBalance,
		event.EstimatedTotalXTZ, event.TokenCount, event.NFTCount)
	if event.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", event.Error)
	}
	return nil
}

// inspectStreamCommand shows information about the wallet events stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the WALLET_EVENTS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "tzwallet-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, info)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
