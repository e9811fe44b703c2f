package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rudmsa/feedagg/internal/market"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each trade to one topic keyed by channel, so a
// channel's trades stay on one partition in order.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev market.TradeEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Channel.String()),
		Value: payload,
		Time:  ev.Trade.Time,
	})
	if err != nil {
		return fmt.Errorf("kafka write [%s]: %w", ev.Channel, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
