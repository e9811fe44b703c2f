package feed

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/market"
)

const (
	DummyDefaultLevels = 5
)

var errDummyClosed = errors.New("dummy connection closed")

// DummyDialer produces connections that emit random trades or book
// snapshots in the exchange's native format on every interval. Prices are
// drawn from [low, high).
type DummyDialer struct {
	low, high decimal.Decimal
	interval  time.Duration
}

func NewDummyDialer(l, h decimal.Decimal, in time.Duration) *DummyDialer {
	return &DummyDialer{
		low:      l,
		high:     h,
		interval: in,
	}
}

func (d *DummyDialer) Dial(ctx context.Context, _ string, ch market.Channel) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &dummyConn{
		dialer:     d,
		channel:    ch,
		timeTicker: time.NewTicker(d.interval),
		closed:     make(chan struct{}),
	}, nil
}

type dummyConn struct {
	dialer  *DummyDialer
	channel market.Channel

	timeTicker *time.Ticker
	closeOnce  sync.Once
	closed     chan struct{}
}

func (c *dummyConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errDummyClosed
	case <-c.timeTicker.C:
	}

	var (
		payload []byte
		err     error
	)
	switch c.channel.Kind {
	case market.Tape:
		payload, err = exchange.MarshalTrade(c.channel, c.generateTrade())
	default:
		bids, asks := c.generateBook()
		payload, err = exchange.MarshalSnapshot(c.channel, bids, asks)
	}
	if err != nil {
		return 0, nil, err
	}
	return websocket.TextMessage, payload, nil
}

func (c *dummyConn) WriteMessage(int, []byte) error {
	select {
	case <-c.closed:
		return errDummyClosed
	default:
		return nil
	}
}

func (c *dummyConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.timeTicker.Stop()
	})
	return nil
}

func (c *dummyConn) generatePrice() decimal.Decimal {
	randomVal := decimal.NewFromFloat(rand.Float64())
	priceRange := c.dialer.high.Sub(c.dialer.low)
	return decimal.Sum(randomVal.Mul(priceRange), c.dialer.low).Round(2)
}

func (c *dummyConn) generateTrade() market.Trade {
	side := market.Buy
	if rand.Intn(2) == 0 {
		side = market.Sell
	}
	return market.Trade{
		Price:    c.generatePrice().String(),
		Size:     decimal.NewFromFloat(rand.Float64()).Round(4).Add(decimal.New(1, -4)).String(),
		Time:     time.Now().UTC().Truncate(time.Millisecond),
		Exchange: c.channel.Exchange,
		Side:     side,
	}
}

// generateBook builds an uncrossed book around a random mid price.
func (c *dummyConn) generateBook() (bids, asks []market.Level) {
	mid := c.generatePrice()
	tick := decimal.New(1, -2)
	for i := 1; i <= DummyDefaultLevels; i++ {
		step := tick.Mul(decimal.NewFromInt(int64(i)))
		size := decimal.NewFromInt(int64(rand.Intn(10) + 1))
		bids = append(bids, market.Level{Price: mid.Sub(step), Size: size})
		asks = append(asks, market.Level{Price: mid.Add(step), Size: size})
	}
	return bids, asks
}
