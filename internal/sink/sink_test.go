package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/market"
)

var krTape = market.NewChannel(market.Kraken, market.Tape, "XBT/USD")

func event(price string) market.TradeEvent {
	return market.TradeEvent{
		Channel: krTape,
		Trade: market.Trade{
			Price:    price,
			Size:     "0.5",
			Time:     time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC),
			Exchange: market.Kraken,
			Side:     market.Sell,
		},
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestEncode(t *testing.T) {
	raw, err := Encode(event("5541.2"))
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "kraken", got.Exchange)
	assert.Equal(t, "XBT/USD", got.Market)
	assert.Equal(t, "5541.2", got.Price)
	assert.Equal(t, "sell", got.Side)
	assert.True(t, got.Time.Equal(event("").Trade.Time))
}

func TestRedisPublisher(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := &RedisPublisher{client: db, prefix: "trades"}

	payload, err := Encode(event("5541.2"))
	require.NoError(t, err)
	mock.ExpectPublish("trades:kraken:XBT/USD", string(payload)).SetVal(1)

	require.NoError(t, pub.Publish(context.Background(), event("5541.2")))
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectPublish("trades:kraken:XBT/USD", string(payload)).SetErr(errors.New("connection refused"))
	assert.Error(t, pub.Publish(context.Background(), event("5541.2")))
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w}

	require.NoError(t, pub.Publish(context.Background(), event("5541.2")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "kraken:tape:XBT/USD", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"price":"5541.2"`)

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestSinkSkipsFailuresAndDrains(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &fakeWriter{err: errors.New("broker down")}
	input := make(chan market.TradeEvent, 2)
	input <- event("1")
	input <- event("2")
	close(input)

	s := New(input, &KafkaPublisher{writer: w}, logger)
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, hook.AllEntries(), 2)
	assert.True(t, w.closed)
}

func TestSinkStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &fakeWriter{}
	input := make(chan market.TradeEvent)
	s := New(input, &KafkaPublisher{writer: w}, logger)

	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	input <- event("1")
	cancelFn()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sink kept running")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.msgs, 1)
	assert.True(t, w.closed)
}

func TestNewPublisher(t *testing.T) {
	pub, err := NewPublisher(config.SinkConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, pub)

	pub, err = NewPublisher(config.SinkConfig{Type: "kafka", Brokers: []string{"127.0.0.1:9092"}, Topic: "trades"})
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, pub)

	_, err = NewPublisher(config.SinkConfig{Type: "nats"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}
