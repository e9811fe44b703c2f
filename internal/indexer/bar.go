package indexer

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one index value together with the trade range it was built
// from.
type PriceBar struct {
	Stamp   int64
	Value   decimal.Decimal
	Low     decimal.Decimal
	High    decimal.Decimal
	Samples int
}

// barRange tracks the extremes and the number of trades seen since the last
// bar.
type barRange struct {
	low, high decimal.Decimal
	samples   int
}

func (r *barRange) add(price decimal.Decimal) {
	if r.samples == 0 || price.LessThan(r.low) {
		r.low = price
	}
	if r.samples == 0 || price.GreaterThan(r.high) {
		r.high = price
	}
	r.samples++
}

func (r *barRange) build(val decimal.Decimal, now time.Time) PriceBar {
	return PriceBar{
		Stamp:   now.Unix(),
		Value:   val,
		Low:     r.low,
		High:    r.high,
		Samples: r.samples,
	}
}
