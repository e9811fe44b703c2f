package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/state"
)

func newBookCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Print best bid and ask of each order book at every interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, err := f.channels(market.Book)
			if err != nil {
				return err
			}
			return runBook(cmd.Context(), a, f, channels, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags(), f, defaultMarkets)
	return cmd
}

func runBook(ctx context.Context, a *app, f *runFlags, channels []market.Channel, out io.Writer) error {
	c, err := client.New(a.cfg, a.clientOptions()...)
	if err != nil {
		return err
	}
	defer c.Close()

	started := startAll(a, c, channels)
	defer stopAll(a, c, started)

	var deadline <-chan time.Time
	if f.duration > 0 {
		timer := time.NewTimer(f.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-c.Done():
			return client.ErrUnexpectedShutdown
		case <-ticker.C:
			for _, ch := range started {
				b, err := c.Book(ch)
				if err != nil {
					a.log.WithError(err).WithField("channel", ch.String()).Error("failed to read book")
					continue
				}
				fmt.Fprintln(out, formatTop(ch, b))
			}
		}
	}
}

func formatTop(ch market.Channel, b *state.Book) string {
	bids, asks := b.Depth()
	bid, ask := "-", "-"
	if l, ok := b.BestBid(); ok {
		bid = l.Size.String() + " @ " + l.Price.String()
	}
	if l, ok := b.BestAsk(); ok {
		ask = l.Size.String() + " @ " + l.Price.String()
	}
	return fmt.Sprintf("%-28s bid %-24s ask %-24s depth %d/%d", ch, bid, ask, bids, asks)
}
