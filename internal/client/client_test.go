package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/core"
	"github.com/rudmsa/feedagg/internal/feed/feedtest"
	"github.com/rudmsa/feedagg/internal/market"
)

const waitFor = 2 * time.Second

var krTape = market.NewChannel(market.Kraken, market.Tape, "XBT/USD")

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Feed.HandshakeTimeout = time.Second
	cfg.Feed.IdleTick = 10 * time.Millisecond
	cfg.Supervisor.IdleTick = 10 * time.Millisecond
	for _, ex := range market.Exchanges {
		cfg.Exchanges[ex.String()] = config.ExchangeConfig{SubscribeRate: 1000, SubscribeBurst: 100}
	}
	return cfg
}

func testOptions(d *feedtest.Dialer) []Option {
	logger, _ := test.NewNullLogger()
	return []Option{WithLogger(logger), WithDialer(d)}
}

func TestClientRoundTrip(t *testing.T) {
	d := feedtest.NewDialer()
	c, err := New(testConfig(), testOptions(d)...)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Start(krTape))
	assert.ErrorIs(t, c.Start(krTape), aggregator.ErrChannelAlreadySubscribed)

	d.Conn(krTape).Push(`[337,[["5541.20000","0.15850568","1534614057.321597","s","l",""]],"trade","XBT/USD"]`)
	require.Eventually(t, func() bool {
		trades, err := c.Tape(krTape)
		return err == nil && len(trades) == 1
	}, waitFor, 5*time.Millisecond)

	trades, err := c.Tape(krTape)
	require.NoError(t, err)
	assert.Equal(t, "5541.20000", trades[0].Price)
	assert.Equal(t, market.Sell, trades[0].Side)
	assert.Equal(t, int64(1534614057321), trades[0].Time.UnixMilli())

	last, err := c.Last(krTape)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	_, err = c.Book(krTape)
	assert.ErrorIs(t, err, aggregator.ErrChannelDoesNotExist)

	require.NoError(t, c.Stop(krTape))
	_, err = c.Last(krTape)
	assert.ErrorIs(t, err, aggregator.ErrSocketDoesNotExist)
}

func TestClientAfterClose(t *testing.T) {
	c, err := New(testConfig(), testOptions(feedtest.NewDialer())...)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Start(krTape), ErrUnexpectedShutdown)
	_, err = c.Tape(krTape)
	assert.ErrorIs(t, err, ErrUnexpectedShutdown)
}

func TestRuntimeFailureSurfaces(t *testing.T) {
	boom := errors.New("sink failed")
	opts := append(testOptions(feedtest.NewDialer()),
		WithRunnable(core.RunnableFunc(func(context.Context) error { return boom })))

	c, err := New(testConfig(), opts...)
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("runtime kept running")
	}
	assert.ErrorIs(t, c.Start(krTape), ErrUnexpectedShutdown)
	assert.ErrorIs(t, c.Close(), boom)
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.HandshakeTimeout = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestAsyncResponsesAreTagged(t *testing.T) {
	d := feedtest.NewDialer()
	c, err := NewAsync(testConfig(), testOptions(d)...)
	require.NoError(t, err)
	defer c.Close()

	book := market.NewChannel(market.Coinbase, market.Book, "BTC-USD")
	require.NoError(t, c.Start(krTape))
	require.NoError(t, c.Start(book))
	require.NoError(t, c.Tape(book))
	require.NoError(t, c.Last(krTape))

	got := make(map[aggregator.Op][]aggregator.Response)
	for i := 0; i < 4; i++ {
		select {
		case r := <-c.Responses():
			got[r.Op] = append(got[r.Op], r)
		case <-time.After(waitFor):
			t.Fatal("missing response")
		}
	}

	require.Len(t, got[aggregator.OpStart], 2)
	for _, r := range got[aggregator.OpStart] {
		assert.NoError(t, r.Err)
		assert.Equal(t, aggregator.Subscribed, r.Status)
	}
	require.Len(t, got[aggregator.OpTape], 1)
	assert.Equal(t, book, got[aggregator.OpTape][0].Channel)
	assert.ErrorIs(t, got[aggregator.OpTape][0].Err, aggregator.ErrChannelDoesNotExist)

	require.Len(t, got[aggregator.OpLast], 1)
	assert.Equal(t, krTape, got[aggregator.OpLast][0].Channel)
	assert.NoError(t, got[aggregator.OpLast][0].Err)

	require.NoError(t, c.Stop(krTape))
	select {
	case r := <-c.Responses():
		assert.Equal(t, aggregator.OpStop, r.Op)
		assert.Equal(t, aggregator.Unsubscribed, r.Status)
	case <-time.After(waitFor):
		t.Fatal("missing stop response")
	}
}

func TestAsyncAfterClose(t *testing.T) {
	c, err := NewAsync(testConfig(), testOptions(feedtest.NewDialer())...)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(krTape), ErrUnexpectedShutdown)
}
