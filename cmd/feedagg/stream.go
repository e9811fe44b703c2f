package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/market"
)

func newStreamCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Drive tape channels through the asynchronous client and print responses as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, err := f.channels(market.Tape)
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), a, f, channels, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags(), f, defaultMarkets)
	return cmd
}

func runStream(ctx context.Context, a *app, f *runFlags, channels []market.Channel, out io.Writer) error {
	c, err := client.NewAsync(a.cfg, a.clientOptions()...)
	if err != nil {
		return err
	}
	defer c.Close()

	stops := make(chan struct{}, len(channels))
	go func() {
		for {
			select {
			case <-c.Done():
				return
			case resp := <-c.Responses():
				printResponse(a.log, out, resp)
				if resp.Op == aggregator.OpStop {
					stops <- struct{}{}
				}
			}
		}
	}()

	for _, ch := range channels {
		if err := c.Start(ch); err != nil {
			return err
		}
	}

	var deadline <-chan time.Time
	if f.duration > 0 {
		timer := time.NewTimer(f.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			for _, ch := range channels {
				if err := c.Tape(ch); err != nil {
					return err
				}
			}
		}
	}

	for _, ch := range channels {
		if err := c.Stop(ch); err != nil {
			return err
		}
	}
	timeout := time.After(5 * time.Second)
	for range channels {
		select {
		case <-stops:
		case <-timeout:
			a.log.Warn("timed out waiting for unsubscribe responses")
			return nil
		}
	}
	return nil
}

func printResponse(log logrus.FieldLogger, out io.Writer, resp aggregator.Response) {
	entry := log.WithFields(logrus.Fields{"channel": resp.Channel.String(), "op": resp.Op.String()})
	if resp.Err != nil {
		entry.WithError(resp.Err).Warn("request failed")
		return
	}
	switch resp.Op {
	case aggregator.OpTape:
		fmt.Fprintf(out, "%s (%d trades)\n", resp.Channel, len(resp.Tape))
		if n := len(resp.Tape); n > 0 {
			printTrade(out, resp.Tape[n-1])
		}
	default:
		entry.WithField("status", resp.Status.String()).Info("response")
	}
}
