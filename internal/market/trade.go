package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int

const (
	SideUnknown Side = iota
	Buy
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trade is an exchange-agnostic trade print. Price and Size keep the
// exchange's own decimal text so no precision is lost in formatting.
type Trade struct {
	Price    string    `json:"price"`
	Size     string    `json:"size"`
	Time     time.Time `json:"time"`
	Exchange Exchange  `json:"exchange"`
	Side     Side      `json:"side"`
}

// TradeEvent is a canonical trade tagged with the channel it arrived on.
type TradeEvent struct {
	Channel Channel
	Trade   Trade
}

// Level is one price level of an order book side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Change is a single book delta entry. A zero Size removes the level.
type Change struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}
