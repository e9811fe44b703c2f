package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/metrics"
)

// Opener creates connection workers. Each exchange gets its own subscribe
// rate limit and dial circuit breaker.
type Opener struct {
	cfg      *config.Config
	dialer   Dialer
	limiter  *Limiter
	breakers map[market.Exchange]*gobreaker.CircuitBreaker
	metrics  *metrics.Collector
	log      logrus.FieldLogger
}

func NewOpener(cfg *config.Config, dialer Dialer, m *metrics.Collector, log logrus.FieldLogger) *Opener {
	o := &Opener{
		cfg:      cfg,
		dialer:   dialer,
		limiter:  NewLimiter(cfg),
		breakers: make(map[market.Exchange]*gobreaker.CircuitBreaker, len(market.Exchanges)),
		metrics:  m,
		log:      log,
	}
	for _, ex := range market.Exchanges {
		o.breakers[ex] = o.newBreaker(ex)
	}
	return o
}

func (o *Opener) newBreaker(ex market.Exchange) *gobreaker.CircuitBreaker {
	failures := o.cfg.Feed.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	st := gobreaker.Settings{
		Name:    ex.String(),
		Timeout: o.cfg.Feed.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.WithFields(logrus.Fields{
				"exchange": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("dial circuit breaker changed state")
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Open connects to the channel's exchange, sends the subscription and starts
// the receive loop. Frames are delivered to inbound until the socket is shut
// down or the exchange closes the connection.
func (o *Opener) Open(ctx context.Context, ch market.Channel, inbound chan<- Frame) (*Socket, error) {
	breaker, ok := o.breakers[ch.Exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ch.Exchange)
	}
	sub, err := exchange.SubscribeMessage(ch)
	if err != nil {
		return nil, err
	}
	ec := o.cfg.Exchange(ch.Exchange)

	ctx, cancelFn := context.WithTimeout(ctx, o.cfg.Feed.HandshakeTimeout)
	defer cancelFn()

	if err := o.limiter.Wait(ctx, ch.Exchange); err != nil {
		return nil, fmt.Errorf("subscribe rate limit for [%s]: %w", ch.Exchange, err)
	}

	o.log.WithFields(logrus.Fields{"channel": ch.String(), "url": ec.Endpoint}).Info("opening socket")
	start := time.Now()
	res, err := breaker.Execute(func() (interface{}, error) {
		return o.dialer.Dial(ctx, ec.Endpoint, ch)
	})
	o.metrics.ObserveDial(ch.Exchange, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("%w: dial [%s]: %w", ErrTransport, ec.Endpoint, err)
	}
	conn := res.(Conn)

	sock := newSocket(ch, conn, o.log)
	if err := sock.Send(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe [%s]: %w", ch, err)
	}

	go sock.run(inbound, o.cfg.Feed.IdleTick)
	return sock, nil
}
