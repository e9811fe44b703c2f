package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/feed/feedtest"
	"github.com/rudmsa/feedagg/internal/market"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	cbTape = market.NewChannel(market.Coinbase, market.Tape, "BTC-USD")
	cbBook = market.NewChannel(market.Coinbase, market.Book, "BTC-USD")
	krTape = market.NewChannel(market.Kraken, market.Tape, "XBT/USD")
	krBook = market.NewChannel(market.Kraken, market.Book, "XBT/USD")
	hlTape = market.NewChannel(market.Hyperliquid, market.Tape, "BTC")
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Feed.HandshakeTimeout = time.Second
	cfg.Feed.IdleTick = 10 * time.Millisecond
	cfg.Supervisor.IdleTick = 10 * time.Millisecond
	cfg.Supervisor.ResponseBuffer = 8
	for _, ex := range market.Exchanges {
		cfg.Exchanges[ex.String()] = config.ExchangeConfig{SubscribeRate: 1000, SubscribeBurst: 100}
	}
	return cfg
}

type harness struct {
	t      *testing.T
	sup    *Supervisor
	dialer *feedtest.Dialer
	hook   *test.Hook
}

func newHarness(t *testing.T, mutate func(*config.Config), opts ...Option) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	d := feedtest.NewDialer()

	opts = append([]Option{WithLogger(logger), WithDialer(d)}, opts...)
	sup := NewSupervisor(cfg, opts...)

	ctx, cancelFn := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		select {
		case <-sup.Done():
		case <-time.After(waitFor):
			t.Error("supervisor did not stop")
		}
	})
	return &harness{t: t, sup: sup, dialer: d, hook: hook}
}

func (h *harness) call(op Op, ch market.Channel) Response {
	h.t.Helper()
	req, reply := NewRequest(op, ch)
	h.sup.Requests() <- req
	select {
	case resp := <-reply:
		assert.Equal(h.t, ch, resp.Channel)
		assert.Equal(h.t, op, resp.Op)
		return resp
	case <-time.After(waitFor):
		h.t.Fatalf("no reply to %s %s", op, ch)
	}
	return Response{}
}

func (h *harness) start(ch market.Channel) *feedtest.Conn {
	h.t.Helper()
	resp := h.call(OpStart, ch)
	require.NoError(h.t, resp.Err)
	require.Equal(h.t, Subscribed, resp.Status)
	conn := h.dialer.Conn(ch)
	require.NotNil(h.t, conn)
	return conn
}

func (h *harness) hasTrades(ch market.Channel) func() bool {
	return func() bool {
		return len(h.call(OpTape, ch).Tape) > 0
	}
}

// loggedError waits for a log entry whose error matches target.
func (h *harness) loggedError(target error) bool {
	for _, e := range h.hook.AllEntries() {
		if err, ok := e.Data[logrus.ErrorKey].(error); ok && errors.Is(err, target) {
			return true
		}
	}
	return false
}

func tradeMsg(t *testing.T, ch market.Channel, price string, ts time.Time) string {
	t.Helper()
	raw, err := exchange.MarshalTrade(ch, market.Trade{Price: price, Size: "1", Time: ts, Side: market.Buy})
	require.NoError(t, err)
	return string(raw)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	for _, ex := range market.Exchanges {
		for _, kind := range []market.Kind{market.Book, market.Tape} {
			ch := market.NewChannel(ex, kind, "BTC")
			h.start(ch)

			resp := h.call(OpStart, ch)
			assert.ErrorIs(t, resp.Err, ErrChannelAlreadySubscribed, ch.String())
			assert.Equal(t, StatusNone, resp.Status)
		}
	}
}

func TestQueriesOnUnknownChannel(t *testing.T) {
	h := newHarness(t, nil)
	for _, ex := range market.Exchanges {
		for _, kind := range []market.Kind{market.Book, market.Tape} {
			ch := market.NewChannel(ex, kind, "NOPE")
			assert.ErrorIs(t, h.call(OpTape, ch).Err, ErrChannelDoesNotExist)
			assert.ErrorIs(t, h.call(OpBook, ch).Err, ErrChannelDoesNotExist)
			assert.ErrorIs(t, h.call(OpLast, ch).Err, ErrSocketDoesNotExist)
			assert.ErrorIs(t, h.call(OpStop, ch).Err, ErrSocketDoesNotExist)
		}
	}
}

func TestTapeKeepsArrivalOrder(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, ch := range []market.Channel{cbTape, krTape, hlTape} {
		t.Run(ch.Exchange.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			conn := h.start(ch)

			prices := []string{"100.0", "100.5", "101.0"}
			for i, p := range prices {
				conn.Push(tradeMsg(t, ch, p, base.Add(time.Duration(i)*time.Second)))
			}

			require.Eventually(t, func() bool {
				return len(h.call(OpTape, ch).Tape) == 3
			}, waitFor, tick)

			tape := h.call(OpTape, ch).Tape
			for i, tr := range tape {
				assert.Equal(t, prices[i], tr.Price)
				assert.Equal(t, ch.Exchange, tr.Exchange)
				assert.Equal(t, time.UTC, tr.Time.Location())
				assert.Equal(t, base.Add(time.Duration(i)*time.Second).UnixMilli(), tr.Time.UnixMilli())
			}
		})
	}
}

func TestBookSnapshotAndDeltas(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(krBook)

	conn.Push(`[0,{"as":[["5541.30000","2.5","1534614248.123678"]],"bs":[["5541.20000","1.5","1534614248.765567"],["5540.00000","3","1534614248.765567"]]},"book-100","XBT/USD"]`)
	conn.Push(`[0,{"b":[["5540.00000","0.00000000","1534614335.345903"]]},"book-100","XBT/USD"]`)
	conn.Push(`[0,{"a":[["5541.3","4","1534614335.345903"],["5542.0","1","1534614335.345903"]]},"book-100","XBT/USD"]`)

	require.Eventually(t, func() bool {
		b := h.call(OpBook, krBook).Book
		bids, asks := b.Depth()
		return bids == 1 && asks == 2
	}, waitFor, tick)

	book := h.call(OpBook, krBook).Book
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(dec("5541.2")))
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(dec("5541.3")))
	assert.True(t, ask.Size.Equal(dec("4")))
}

func TestTradeOnBookChannelIsMismatch(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(cbBook)

	conn.Push(`{"type":"snapshot","product_id":"BTC-USD","bids":[["10","1"],["11","2"]],"asks":[["12","3"]]}`)
	require.Eventually(t, func() bool {
		bids, _ := h.call(OpBook, cbBook).Book.Depth()
		return bids == 2
	}, waitFor, tick)
	before := h.call(OpBook, cbBook).Book

	conn.Push(tradeMsg(t, cbBook, "13", time.Now()))
	require.Eventually(t, func() bool { return h.loggedError(ErrChannelResponseMismatch) }, waitFor, tick)

	after := h.call(OpBook, cbBook).Book
	assert.Equal(t, before.Bids(), after.Bids())
	assert.Equal(t, before.Asks(), after.Asks())
	assert.NoError(t, h.call(OpLast, cbBook).Err, "channel stays subscribed")
}

func TestApplyRejectsKindMismatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sup := NewSupervisor(testConfig(), WithLogger(logger), WithDialer(feedtest.NewDialer()))
	require.NoError(t, sup.store.Create(cbBook))
	require.NoError(t, sup.store.Create(cbTape))

	err := sup.apply(cbBook, exchange.Op{Kind: exchange.OpTrades, Trades: []market.Trade{{Price: "1", Size: "1"}}})
	assert.ErrorIs(t, err, ErrChannelResponseMismatch)

	err = sup.apply(cbTape, exchange.Op{Kind: exchange.OpSnapshot})
	assert.ErrorIs(t, err, ErrChannelResponseMismatch)

	err = sup.apply(cbTape, exchange.Op{Kind: exchange.OpDelta})
	assert.ErrorIs(t, err, ErrChannelResponseMismatch)

	trades, err := sup.tape(cbTape)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestStopKeepsStateAndBlocksRestart(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(krTape)
	conn.Push(tradeMsg(t, krTape, "5541.2", time.Now()))
	require.Eventually(t, h.hasTrades(krTape), waitFor, tick)

	resp := h.call(OpStop, krTape)
	require.NoError(t, resp.Err)
	assert.Equal(t, Unsubscribed, resp.Status)
	assert.True(t, conn.IsClosed())

	writes := conn.Writes()
	require.Len(t, writes, 2)
	assert.Contains(t, writes[0], `"subscribe"`)
	assert.Contains(t, writes[1], `"unsubscribe"`)

	assert.ErrorIs(t, h.call(OpLast, krTape).Err, ErrSocketDoesNotExist)
	assert.ErrorIs(t, h.call(OpStop, krTape).Err, ErrSocketDoesNotExist)
	assert.Len(t, h.call(OpTape, krTape).Tape, 1)

	resp = h.call(OpStart, krTape)
	assert.ErrorIs(t, resp.Err, ErrChannelAlreadySubscribed)
	assert.Equal(t, StatusNone, resp.Status)
	assert.Equal(t, 1, h.dialer.Dials())
	assert.Len(t, h.call(OpTape, krTape).Tape, 1)
}

func TestRemoteCloseOrphansChannel(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(hlTape)
	conn.Push(tradeMsg(t, hlTape, "26433.0", time.Now()))
	require.Eventually(t, h.hasTrades(hlTape), waitFor, tick)

	conn.Drop()
	require.Eventually(t, func() bool {
		return errors.Is(h.call(OpLast, hlTape).Err, ErrSocketDoesNotExist)
	}, waitFor, tick)
	assert.True(t, h.loggedError(feed.ErrTransport))

	tape := h.call(OpTape, hlTape)
	require.NoError(t, tape.Err)
	assert.Len(t, tape.Tape, 1)

	assert.ErrorIs(t, h.call(OpStart, hlTape).Err, ErrChannelAlreadySubscribed)
	assert.ErrorIs(t, h.call(OpLast, hlTape).Err, ErrSocketDoesNotExist)
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestDecodeErrorIsIsolated(t *testing.T) {
	h := newHarness(t, nil)
	bad := h.start(cbTape)
	good := h.start(krTape)

	bad.Push(`{"type":"ticker","price":"oops"`)
	good.Push(tradeMsg(t, krTape, "5541.2", time.Now()))

	require.Eventually(t, h.hasTrades(krTape), waitFor, tick)
	require.Eventually(t, func() bool { return h.loggedError(exchange.ErrDecode) }, waitFor, tick)

	assert.NoError(t, h.call(OpLast, cbTape).Err)
	assert.False(t, bad.IsClosed())

	bad.Push(tradeMsg(t, cbTape, "100.0", time.Now()))
	require.Eventually(t, h.hasTrades(cbTape), waitFor, tick)
}

func TestUnsubscribeOnDecodeError(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Supervisor.UnsubscribeOnDecodeError = true
	})
	conn := h.start(cbTape)
	conn.Push(`not json`)

	require.Eventually(t, func() bool {
		return errors.Is(h.call(OpLast, cbTape).Err, ErrSocketDoesNotExist)
	}, waitFor, tick)
	assert.True(t, conn.IsClosed())
	assert.NoError(t, h.call(OpTape, cbTape).Err)
}

func TestLastTracksFrames(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start(cbTape)

	first := h.call(OpLast, cbTape)
	require.NoError(t, first.Err)
	assert.False(t, first.Last.IsZero())

	time.Sleep(2 * time.Millisecond)
	conn.Push(`{"type":"heartbeat"}`)
	require.Eventually(t, func() bool {
		return h.call(OpLast, cbTape).Last.After(first.Last)
	}, waitFor, tick)
}

func TestDialFailureKeepsEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.FailNext(1)

	resp := h.call(OpStart, cbBook)
	require.Error(t, resp.Err)
	assert.ErrorIs(t, resp.Err, feed.ErrTransport)
	assert.Equal(t, StatusNone, resp.Status)

	book := h.call(OpBook, cbBook)
	require.NoError(t, book.Err)
	bids, asks := book.Book.Depth()
	assert.Zero(t, bids+asks)
	assert.ErrorIs(t, h.call(OpLast, cbBook).Err, ErrSocketDoesNotExist)

	retry := h.call(OpStart, cbBook)
	assert.ErrorIs(t, retry.Err, ErrChannelAlreadySubscribed)
	assert.Equal(t, StatusNone, retry.Status)
	assert.Nil(t, h.dialer.Conn(cbBook))
}

func TestResponsesWithoutReplySlot(t *testing.T) {
	h := newHarness(t, nil)

	h.sup.Requests() <- Request{Op: OpStart, Channel: cbTape}
	h.sup.Requests() <- Request{Op: OpBook, Channel: cbTape}
	h.sup.Requests() <- Request{Op: OpTape, Channel: cbTape}

	var got []Response
	for i := 0; i < 3; i++ {
		select {
		case r := <-h.sup.Responses():
			got = append(got, r)
		case <-time.After(waitFor):
			t.Fatal("missing response")
		}
	}
	assert.Equal(t, OpStart, got[0].Op)
	assert.Equal(t, Subscribed, got[0].Status)
	assert.Equal(t, cbTape, got[0].Channel)

	assert.Equal(t, OpBook, got[1].Op)
	assert.ErrorIs(t, got[1].Err, ErrChannelDoesNotExist)

	assert.Equal(t, OpTape, got[2].Op)
	assert.NoError(t, got[2].Err)
	assert.Empty(t, got[2].Tape)
}

func TestResponseStreamQueuesUntilDrained(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Supervisor.ResponseBuffer = 1 })

	var channels []market.Channel
	for i := 0; i < 5; i++ {
		ch := market.NewChannel(market.Coinbase, market.Tape, fmt.Sprintf("C%d-USD", i))
		channels = append(channels, ch)
		h.sup.Requests() <- Request{Op: OpLast, Channel: ch}
	}
	// requests are served in order, so every queued response exists by now
	h.call(OpLast, cbTape)

	for _, ch := range channels {
		select {
		case r := <-h.sup.Responses():
			assert.Equal(t, ch, r.Channel)
			assert.Equal(t, OpLast, r.Op)
			assert.ErrorIs(t, r.Err, ErrSocketDoesNotExist)
		case <-time.After(waitFor):
			t.Fatalf("missing response for %s", ch)
		}
	}
	for _, e := range h.hook.AllEntries() {
		assert.NotContains(t, e.Message, "dropped")
	}
}

func TestTradeFeedPublishes(t *testing.T) {
	events := make(chan market.TradeEvent, 4)
	h := newHarness(t, nil, WithTradeFeed(events))
	conn := h.start(hlTape)
	conn.Push(tradeMsg(t, hlTape, "26437.0", time.Now()))

	select {
	case ev := <-events:
		assert.Equal(t, hlTape, ev.Channel)
		assert.Equal(t, "26437.0", ev.Trade.Price)
		assert.Equal(t, market.Hyperliquid, ev.Trade.Exchange)
	case <-time.After(waitFor):
		t.Fatal("no trade event")
	}
}

func TestRunTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	// the loop is serving requests, so Run has claimed the supervisor
	h.call(OpLast, cbTape)
	assert.ErrorIs(t, h.sup.Run(context.Background()), ErrAlreadyStarted)
}

func TestCancelClosesSockets(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := feedtest.NewDialer()
	sup := NewSupervisor(testConfig(), WithLogger(logger), WithDialer(d))
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	var conns []*feedtest.Conn
	for i := 0; i < 3; i++ {
		ch := market.NewChannel(market.Coinbase, market.Tape, fmt.Sprintf("C%d-USD", i))
		req, reply := NewRequest(OpStart, ch)
		sup.Requests() <- req
		require.NoError(t, (<-reply).Err)
		conns = append(conns, d.Conn(ch))
	}

	cancelFn()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop")
	}
	for _, c := range conns {
		assert.True(t, c.IsClosed())
	}
}
