package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rudmsa/feedagg/internal/api"
	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/core"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/metrics"
	"github.com/rudmsa/feedagg/internal/sink"
)

type serveFlags struct {
	addr  string
	tapes []string
	books []string
}

func newServeCmd(a *app) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregator behind an HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.addr != "" {
				a.cfg.HTTP.Addr = f.addr
			}
			var boot []market.Channel
			for _, spec := range []struct {
				kind  market.Kind
				specs []string
			}{{market.Tape, f.tapes}, {market.Book, f.books}} {
				channels, err := parseMarkets(spec.specs, spec.kind)
				if err != nil {
					return err
				}
				boot = append(boot, channels...)
			}
			return runServe(cmd.Context(), a, boot)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringSliceVar(&f.tapes, "tape", nil, "exchange:market tape to start on boot, repeatable")
	cmd.Flags().StringSliceVar(&f.books, "book", nil, "exchange:market book to start on boot, repeatable")
	return cmd
}

func runServe(ctx context.Context, a *app, boot []market.Channel) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	extra := []client.Option{client.WithMetrics(metrics.NewCollector(reg))}

	pub, err := sink.NewPublisher(a.cfg.Sink)
	if err != nil {
		return err
	}
	if pub != nil {
		trades := make(chan market.TradeEvent, a.cfg.Supervisor.TradeBuffer)
		extra = append(extra,
			client.WithTradeFeed(trades),
			client.WithRunnable(sink.New(trades, pub, a.log)),
		)
		a.log.WithField("sink", a.cfg.Sink.Type).Info("publishing trades")
	}

	c, err := client.New(a.cfg, a.clientOptions(extra...)...)
	if err != nil {
		return err
	}
	defer c.Close()

	started := startAll(a, c, boot)
	defer stopAll(a, c, started)

	appl := core.NewApplication()
	appl.Register(api.NewServer(a.cfg.HTTP, c, reg, a.log))
	appl.Register(core.RunnableFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return client.ErrUnexpectedShutdown
		}
	}))

	a.log.WithField("addr", a.cfg.HTTP.Addr).Info("serving")
	return appl.Run(ctx)
}
