package sink

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/rudmsa/feedagg/internal/market"
)

// RedisPublisher publishes each trade on a pub/sub channel named
// <prefix>:<exchange>:<market>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(addr, prefix string) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (p *RedisPublisher) topic(ch market.Channel) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, ch.Exchange, ch.Market)
}

func (p *RedisPublisher) Publish(ctx context.Context, ev market.TradeEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.topic(ev.Channel), string(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish [%s]: %w", p.topic(ev.Channel), err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
