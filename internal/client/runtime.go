// Package client is the caller-facing API of the aggregator. Client blocks
// on every call; AsyncClient only enqueues and delivers results on a shared
// response stream.
package client

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/core"
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/metrics"
)

var (
	ErrUnexpectedShutdown = errors.New("aggregator runtime is not running")
)

type options struct {
	log       logrus.FieldLogger
	metrics   *metrics.Collector
	dialer    feed.Dialer
	trades    chan<- market.TradeEvent
	runnables []core.Runnable
}

type Option func(*options)

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

func WithDialer(d feed.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTradeFeed receives every trade appended to a tape.
func WithTradeFeed(out chan<- market.TradeEvent) Option {
	return func(o *options) { o.trades = out }
}

// WithRunnable hosts r next to the supervisor. If r fails the whole runtime
// stops.
func WithRunnable(r core.Runnable) Option {
	return func(o *options) { o.runnables = append(o.runnables, r) }
}

// runtime is the background application shared by both facades.
type runtime struct {
	sup      *aggregator.Supervisor
	cancelFn context.CancelFunc
	done     chan struct{}
	err      error
}

func newRuntime(cfg *config.Config, opts ...Option) (*runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	supOpts := []aggregator.Option{
		aggregator.WithLogger(o.log),
		aggregator.WithMetrics(o.metrics),
	}
	if o.dialer != nil {
		supOpts = append(supOpts, aggregator.WithDialer(o.dialer))
	}
	if o.trades != nil {
		supOpts = append(supOpts, aggregator.WithTradeFeed(o.trades))
	}
	sup := aggregator.NewSupervisor(cfg, supOpts...)

	appl := core.NewApplication()
	appl.Register(sup)
	for _, r := range o.runnables {
		appl.Register(r)
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	rt := &runtime{
		sup:      sup,
		cancelFn: cancelFn,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(rt.done)
		rt.err = appl.Run(ctx)
		if rt.err != nil {
			o.log.WithError(rt.err).Error("aggregator runtime stopped")
		}
	}()
	return rt, nil
}

func (rt *runtime) submit(req aggregator.Request) error {
	select {
	case <-rt.done:
		return ErrUnexpectedShutdown
	default:
	}
	select {
	case rt.sup.Requests() <- req:
		return nil
	case <-rt.done:
		return ErrUnexpectedShutdown
	}
}

// Done is closed once the background runtime has exited.
func (rt *runtime) Done() <-chan struct{} {
	return rt.done
}

// Close stops every connection and waits for the runtime to exit. It returns
// the error that stopped the runtime, if any.
func (rt *runtime) Close() error {
	rt.cancelFn()
	<-rt.done
	return rt.err
}
