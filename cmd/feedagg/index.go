package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/indexer"
	"github.com/rudmsa/feedagg/internal/indexer/algorithm"
	"github.com/rudmsa/feedagg/internal/market"
)

func newIndexCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var pooled bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Print a cross-exchange price index built from live trades",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("interval") {
				f.interval = a.cfg.Index.Interval
			}
			channels, err := f.channels(market.Tape)
			if err != nil {
				return err
			}
			formula := algorithm.Formula(algorithm.NewSourceMean())
			if pooled {
				formula = &algorithm.StreamingMean{}
			}
			return runIndex(cmd.Context(), a, f, channels, formula, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags(), f, defaultMarkets)
	cmd.Flags().BoolVar(&pooled, "pooled", false, "average all trades together instead of weighting exchanges equally")
	return cmd
}

func runIndex(ctx context.Context, a *app, f *runFlags, channels []market.Channel, formula algorithm.Formula, out io.Writer) error {
	trades := make(chan market.TradeEvent, a.cfg.Supervisor.TradeBuffer)
	index := indexer.NewPriceIndexer(formula, f.interval, trades, a.log)

	c, err := client.New(a.cfg, a.clientOptions(
		client.WithTradeFeed(trades),
		client.WithRunnable(index),
	)...)
	if err != nil {
		return err
	}
	defer c.Close()

	started := startAll(a, c, channels)
	defer stopAll(a, c, started)

	if f.duration > 0 {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, f.duration)
		defer cancelFn()
	}

	fmt.Fprintln(out, "Timestamp, IndexPrice, Low, High, Trades")
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-index.GetIndexOutput():
			if !ok {
				return client.ErrUnexpectedShutdown
			}
			fmt.Fprintf(out, "%d, %s, %s, %s, %d\n", data.Stamp, data.Value.StringFixed(3), data.Low.StringFixed(2), data.High.StringFixed(2), data.Samples)
		}
	}
}
