package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/market"
)

func newTapeCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "tape",
		Short: "Collect trades for a while and print each tape, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, err := f.channels(market.Tape)
			if err != nil {
				return err
			}
			return runTape(cmd.Context(), a, f, channels, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags(), f, defaultMarkets)
	return cmd
}

func runTape(ctx context.Context, a *app, f *runFlags, channels []market.Channel, out io.Writer) error {
	c, err := client.New(a.cfg, a.clientOptions()...)
	if err != nil {
		return err
	}
	defer c.Close()

	started := startAll(a, c, channels)

	if f.duration <= 0 {
		a.log.Info("receiving trades until interrupted")
		<-ctx.Done()
	}
	for remaining := f.duration; remaining > 0; remaining -= f.interval {
		a.log.WithField("remaining", remaining.String()).Info("receiving trades")
		if !sleep(ctx, min(f.interval, remaining)) {
			break
		}
	}

	for _, ch := range started {
		trades, err := c.Tape(ch)
		if err != nil {
			a.log.WithError(err).WithField("channel", ch.String()).Error("failed to read tape")
			continue
		}
		fmt.Fprintf(out, "%s (%d trades)\n", ch, len(trades))
		for i := len(trades) - 1; i >= 0; i-- {
			printTrade(out, trades[i])
		}
	}

	stopAll(a, c, started)
	return nil
}

func printTrade(out io.Writer, tr market.Trade) {
	fmt.Fprintf(out, "  %s  %-4s %s @ %s\n", tr.Time.Format("15:04:05.000"), tr.Side, tr.Size, tr.Price)
}

// startAll subscribes every channel and returns the ones that succeeded.
func startAll(a *app, c *client.Client, channels []market.Channel) []market.Channel {
	started := make([]market.Channel, 0, len(channels))
	for _, ch := range channels {
		if err := c.Start(ch); err != nil {
			a.log.WithError(err).WithField("channel", ch.String()).Error("failed to subscribe")
			continue
		}
		started = append(started, ch)
	}
	return started
}

func stopAll(a *app, c *client.Client, channels []market.Channel) {
	for _, ch := range channels {
		if err := c.Stop(ch); err != nil {
			a.log.WithError(err).WithField("channel", ch.String()).Warn("failed to unsubscribe")
		}
	}
}
