package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rudmsa/feedagg/internal/market"
)

// hyperliquidGreeting is sent as plain text right after the handshake.
const hyperliquidGreeting = "Websocket connection established."

type hyperliquidSubscriptionSpec struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type hyperliquidRequest struct {
	Method       string                      `json:"method"`
	Subscription hyperliquidSubscriptionSpec `json:"subscription"`
}

type hyperliquidEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hyperliquidTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
	Hash string `json:"hash"`
}

type hyperliquidLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type hyperliquidBook struct {
	Coin   string               `json:"coin"`
	Time   int64                `json:"time"`
	Levels [][]hyperliquidLevel `json:"levels"`
}

func hyperliquidSubscription(ch market.Channel, action string) ([]byte, error) {
	kind := "trades"
	if ch.Kind == market.Book {
		kind = "l2Book"
	}
	return json.Marshal(hyperliquidRequest{
		Method:       action,
		Subscription: hyperliquidSubscriptionSpec{Type: kind, Coin: ch.Market},
	})
}

func decodeHyperliquid(payload []byte) (Op, error) {
	trimmed := bytes.TrimSpace(payload)
	if string(trimmed) == hyperliquidGreeting {
		return Op{Kind: OpInfo, Info: "connected"}, nil
	}

	var env hyperliquidEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Op{}, decodeErrorf("hyperliquid envelope: %v", err)
	}

	switch env.Channel {
	case "subscriptionResponse", "pong":
		return Op{Kind: OpInfo, Info: env.Channel}, nil

	case "trades":
		var rows []hyperliquidTrade
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return Op{}, decodeErrorf("hyperliquid trades: %v", err)
		}
		trades := make([]market.Trade, 0, len(rows))
		for _, r := range rows {
			if r.Px == "" || r.Sz == "" {
				return Op{}, decodeErrorf("hyperliquid trade without px or sz")
			}
			trades = append(trades, market.Trade{
				Price:    r.Px,
				Size:     r.Sz,
				Time:     time.UnixMilli(r.Time).UTC(),
				Exchange: market.Hyperliquid,
				Side:     parseSide(r.Side),
			})
		}
		return Op{Kind: OpTrades, Trades: trades}, nil

	case "l2Book":
		var b hyperliquidBook
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return Op{}, decodeErrorf("hyperliquid l2Book: %v", err)
		}
		if len(b.Levels) != 2 {
			return Op{}, decodeErrorf("hyperliquid l2Book has %d sides", len(b.Levels))
		}
		bids, err := hyperliquidLevels(b.Levels[0])
		if err != nil {
			return Op{}, err
		}
		asks, err := hyperliquidLevels(b.Levels[1])
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpSnapshot, Bids: bids, Asks: asks}, nil

	case "error":
		var msg string
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			msg = string(env.Data)
		}
		return Op{}, fmtRejected("hyperliquid", msg)
	}
	return Op{}, decodeErrorf("hyperliquid channel %q", env.Channel)
}

func hyperliquidLevels(in []hyperliquidLevel) ([]market.Level, error) {
	rows := make([][]string, 0, len(in))
	for _, l := range in {
		rows = append(rows, []string{l.Px, l.Sz})
	}
	return parseLevels(rows)
}

func marshalHyperliquidTrade(ch market.Channel, tr market.Trade) ([]byte, error) {
	side := "B"
	if tr.Side == market.Sell {
		side = "A"
	}
	data := []hyperliquidTrade{{
		Coin: ch.Market,
		Side: side,
		Px:   tr.Price,
		Sz:   tr.Size,
		Time: tr.Time.UnixMilli(),
		Hash: fmt.Sprintf("0x%016x", tr.Time.UnixNano()),
	}}
	return marshalHyperliquid("trades", data)
}

func marshalHyperliquidSnapshot(ch market.Channel, bids, asks []market.Level) ([]byte, error) {
	side := func(levels []market.Level) []hyperliquidLevel {
		out := make([]hyperliquidLevel, 0, len(levels))
		for _, l := range levels {
			out = append(out, hyperliquidLevel{Px: l.Price.String(), Sz: l.Size.String(), N: 1})
		}
		return out
	}
	return marshalHyperliquid("l2Book", hyperliquidBook{
		Coin:   ch.Market,
		Time:   time.Now().UnixMilli(),
		Levels: [][]hyperliquidLevel{side(bids), side(asks)},
	})
}

func marshalHyperliquid(channel string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(hyperliquidEnvelope{Channel: channel, Data: raw})
}
