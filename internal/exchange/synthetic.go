package exchange

import (
	"fmt"

	"github.com/rudmsa/feedagg/internal/market"
)

// MarshalTrade renders a trade in the native trade-channel format of
// ch.Exchange. It backs the dummy transport and protocol tests.
func MarshalTrade(ch market.Channel, tr market.Trade) ([]byte, error) {
	switch ch.Exchange {
	case market.Coinbase:
		return marshalCoinbaseTrade(ch, tr)
	case market.Kraken:
		return marshalKrakenTrade(ch, tr)
	case market.Hyperliquid:
		return marshalHyperliquidTrade(ch, tr)
	}
	return nil, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ch.Exchange)
}

// MarshalSnapshot renders a full book in the native format of ch.Exchange.
func MarshalSnapshot(ch market.Channel, bids, asks []market.Level) ([]byte, error) {
	switch ch.Exchange {
	case market.Coinbase:
		return marshalCoinbaseSnapshot(ch, bids, asks)
	case market.Kraken:
		return marshalKrakenSnapshot(ch, bids, asks)
	case market.Hyperliquid:
		return marshalHyperliquidSnapshot(ch, bids, asks)
	}
	return nil, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ch.Exchange)
}
