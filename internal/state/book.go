package state

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrUnknownSide = errors.New("unknown book side")
)

// levels is one side of a book, kept sorted by price ascending.
type levels []market.Level

func (l levels) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l), func(i int) bool {
		return l[i].Price.Cmp(price) >= 0
	})
	return i, i < len(l) && l[i].Price.Equal(price)
}

// set overwrites the level at price, or removes it when size is zero.
func (l levels) set(price, size decimal.Decimal) levels {
	i, found := l.search(price)
	switch {
	case size.IsZero() && found:
		return append(l[:i], l[i+1:]...)
	case size.IsZero():
		return l
	case found:
		l[i].Size = size
		return l
	}
	l = append(l, market.Level{})
	copy(l[i+1:], l[i:])
	l[i] = market.Level{Price: price, Size: size}
	return l
}

func (l levels) clone() levels {
	if l == nil {
		return nil
	}
	out := make(levels, len(l))
	copy(out, l)
	return out
}

// Book holds bid and ask price levels for one channel.
type Book struct {
	bids levels
	asks levels
}

func NewBook() *Book {
	return &Book{}
}

// Apply applies one delta entry to the matching side.
func (b *Book) Apply(c market.Change) error {
	switch c.Side {
	case market.Buy:
		b.bids = b.bids.set(c.Price, c.Size)
	case market.Sell:
		b.asks = b.asks.set(c.Price, c.Size)
	default:
		return ErrUnknownSide
	}
	return nil
}

// Replace overwrites both sides with a snapshot. Zero-size levels are
// skipped and a repeated price keeps the last size seen.
func (b *Book) Replace(bids, asks []market.Level) {
	b.bids = b.bids[:0]
	for _, lvl := range bids {
		b.bids = b.bids.set(lvl.Price, lvl.Size)
	}
	b.asks = b.asks[:0]
	for _, lvl := range asks {
		b.asks = b.asks.set(lvl.Price, lvl.Size)
	}
}

// Bids returns a copy of the bid side, price ascending.
func (b *Book) Bids() []market.Level {
	return b.bids.clone()
}

// Asks returns a copy of the ask side, price ascending.
func (b *Book) Asks() []market.Level {
	return b.asks.clone()
}

func (b *Book) BestBid() (market.Level, bool) {
	if len(b.bids) == 0 {
		return market.Level{}, false
	}
	return b.bids[len(b.bids)-1], true
}

func (b *Book) BestAsk() (market.Level, bool) {
	if len(b.asks) == 0 {
		return market.Level{}, false
	}
	return b.asks[0], true
}

func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

func (b *Book) Clone() *Book {
	return &Book{
		bids: b.bids.clone(),
		asks: b.asks.clone(),
	}
}

func (b *Book) MarshalJSON() ([]byte, error) {
	out := struct {
		Bids []market.Level `json:"bids"`
		Asks []market.Level `json:"asks"`
	}{
		Bids: b.Bids(),
		Asks: b.Asks(),
	}
	if out.Bids == nil {
		out.Bids = []market.Level{}
	}
	if out.Asks == nil {
		out.Asks = []market.Level{}
	}
	return json.Marshal(out)
}
