// Package sink forwards canonical trades to external systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/market"
)

// Publisher delivers one encoded trade event.
type Publisher interface {
	Publish(ctx context.Context, ev market.TradeEvent) error
	Close() error
}

// Event is the wire form of a published trade.
type Event struct {
	Exchange string    `json:"exchange"`
	Market   string    `json:"market"`
	Price    string    `json:"price"`
	Size     string    `json:"size"`
	Side     string    `json:"side"`
	Time     time.Time `json:"time"`
}

func Encode(ev market.TradeEvent) ([]byte, error) {
	return json.Marshal(Event{
		Exchange: ev.Channel.Exchange.String(),
		Market:   ev.Channel.Market,
		Price:    ev.Trade.Price,
		Size:     ev.Trade.Size,
		Side:     ev.Trade.Side.String(),
		Time:     ev.Trade.Time.UTC(),
	})
}

// NewPublisher builds the publisher selected by cfg.Type. It returns nil for
// "none".
func NewPublisher(cfg config.SinkConfig) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "redis":
		return NewRedisPublisher(cfg.Addr, cfg.Prefix), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Brokers, cfg.Topic), nil
	}
	return nil, fmt.Errorf("%w: unknown sink type %q", config.ErrInvalid, cfg.Type)
}

// Sink drains the trade feed into a Publisher until the context ends or the
// feed is closed. Publish failures are logged and the event is skipped.
type Sink struct {
	input <-chan market.TradeEvent
	pub   Publisher
	log   logrus.FieldLogger
}

func New(input <-chan market.TradeEvent, pub Publisher, log logrus.FieldLogger) *Sink {
	return &Sink{input: input, pub: pub, log: log}
}

func (s *Sink) Run(ctx context.Context) error {
	defer func() {
		if err := s.pub.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close publisher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.input:
			if !ok {
				return nil
			}
			if err := s.pub.Publish(ctx, ev); err != nil {
				s.log.WithError(err).WithField("channel", ev.Channel.String()).Warn("failed to publish trade")
			}
		}
	}
}
