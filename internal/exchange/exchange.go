// Package exchange converts each supported exchange's websocket protocol into
// canonical operations. Every function here switches over the closed set of
// exchanges in market.Exchanges; adding an exchange means adding a case to
// each of them.
package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrDecode   = errors.New("decode error")
	ErrRejected = errors.New("exchange rejected request")
)

type OpKind int

const (
	// OpInfo covers heartbeats, subscription acks and status messages.
	OpInfo OpKind = iota
	OpTrades
	OpSnapshot
	OpDelta
)

func (k OpKind) String() string {
	switch k {
	case OpInfo:
		return "info"
	case OpTrades:
		return "trades"
	case OpSnapshot:
		return "snapshot"
	case OpDelta:
		return "delta"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one decoded message in canonical form. Only the fields matching
// Kind are set.
type Op struct {
	Kind    OpKind
	Info    string
	Trades  []market.Trade
	Bids    []market.Level
	Asks    []market.Level
	Changes []market.Change
}

// Decode parses one text frame received from ex.
func Decode(ex market.Exchange, payload []byte) (Op, error) {
	switch ex {
	case market.Coinbase:
		return decodeCoinbase(payload)
	case market.Kraken:
		return decodeKraken(payload)
	case market.Hyperliquid:
		return decodeHyperliquid(payload)
	}
	return Op{}, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ex)
}

func SubscribeMessage(ch market.Channel) ([]byte, error) {
	switch ch.Exchange {
	case market.Coinbase:
		return coinbaseSubscription(ch, "subscribe")
	case market.Kraken:
		return krakenSubscription(ch, "subscribe")
	case market.Hyperliquid:
		return hyperliquidSubscription(ch, "subscribe")
	}
	return nil, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ch.Exchange)
}

func UnsubscribeMessage(ch market.Channel) ([]byte, error) {
	switch ch.Exchange {
	case market.Coinbase:
		return coinbaseSubscription(ch, "unsubscribe")
	case market.Kraken:
		return krakenSubscription(ch, "unsubscribe")
	case market.Hyperliquid:
		return hyperliquidSubscription(ch, "unsubscribe")
	}
	return nil, fmt.Errorf("%w: %s", market.ErrUnknownExchange, ch.Exchange)
}

func DefaultEndpoint(ex market.Exchange) (string, error) {
	switch ex {
	case market.Coinbase:
		return "wss://ws-feed.exchange.coinbase.com", nil
	case market.Kraken:
		return "wss://ws.kraken.com", nil
	case market.Hyperliquid:
		return "wss://api.hyperliquid.xyz/ws", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrUnknownExchange, ex)
}

func decodeErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

func fmtRejected(exchange, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrRejected, exchange, strings.TrimSpace(msg))
}

// parseLevel reads the leading [price, size, ...] pair of a level entry.
func parseLevel(entry []string) (market.Level, error) {
	if len(entry) < 2 {
		return market.Level{}, decodeErrorf("level has %d fields", len(entry))
	}
	price, err := decimal.NewFromString(entry[0])
	if err != nil {
		return market.Level{}, decodeErrorf("level price %q: %v", entry[0], err)
	}
	size, err := decimal.NewFromString(entry[1])
	if err != nil {
		return market.Level{}, decodeErrorf("level size %q: %v", entry[1], err)
	}
	return market.Level{Price: price, Size: size}, nil
}

func parseLevels(entries [][]string) ([]market.Level, error) {
	out := make([]market.Level, 0, len(entries))
	for _, e := range entries {
		l, err := parseLevel(e)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// parseEpochSeconds converts fractional epoch seconds ("1686499924.936167")
// to UTC without going through float64.
func parseEpochSeconds(s string) (time.Time, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, decodeErrorf("epoch seconds %q: %v", s, err)
	}
	return time.Unix(0, d.Shift(9).IntPart()).UTC(), nil
}

func formatEpochSeconds(t time.Time) string {
	return decimal.NewFromInt(t.UnixNano()).Shift(-9).StringFixed(6)
}

func parseSide(s string) market.Side {
	switch strings.ToLower(s) {
	case "buy", "b", "bid":
		return market.Buy
	case "sell", "s", "a", "ask":
		return market.Sell
	}
	return market.SideUnknown
}
