package indexer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rudmsa/feedagg/internal/market"
)

type Quote struct {
	Market string
	Source market.Exchange
	Stamp  time.Time
	Price  decimal.Decimal
}

func TradeToQuote(ev market.TradeEvent) (Quote, error) {
	price, err := decimal.NewFromString(ev.Trade.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to convert price [%s]: %w", ev.Trade.Price, err)
	}
	return Quote{
		Market: ev.Channel.Market,
		Source: ev.Channel.Exchange,
		Stamp:  ev.Trade.Time,
		Price:  price,
	}, nil
}
