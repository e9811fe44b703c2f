package exchange

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rudmsa/feedagg/internal/market"
)

const (
	krakenBookDepth = 100
)

type krakenSubscriptionSpec struct {
	Name  string `json:"name"`
	Depth int    `json:"depth,omitempty"`
}

type krakenRequest struct {
	Event        string                 `json:"event"`
	Pair         []string               `json:"pair"`
	Subscription krakenSubscriptionSpec `json:"subscription"`
}

type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	ChannelName  string `json:"channelName"`
	Pair         string `json:"pair"`
}

// krakenBook is the object payload of a book message. Snapshots use "as"
// and "bs", updates use "a" and "b".
type krakenBook struct {
	As [][]string `json:"as"`
	Bs [][]string `json:"bs"`
	A  [][]string `json:"a"`
	B  [][]string `json:"b"`
	C  string     `json:"c"`
}

func krakenSubscription(ch market.Channel, action string) ([]byte, error) {
	spec := krakenSubscriptionSpec{Name: "trade"}
	if ch.Kind == market.Book {
		spec = krakenSubscriptionSpec{Name: "book", Depth: krakenBookDepth}
	}
	return json.Marshal(krakenRequest{
		Event:        action,
		Pair:         []string{ch.Market},
		Subscription: spec,
	})
}

func decodeKraken(payload []byte) (Op, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Op{}, decodeErrorf("kraken: empty frame")
	}
	if trimmed[0] == '{' {
		return decodeKrakenEvent(trimmed)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return Op{}, decodeErrorf("kraken envelope: %v", err)
	}
	n := len(parts)
	if n < 4 {
		return Op{}, decodeErrorf("kraken channel message has %d elements", n)
	}
	var name string
	if err := json.Unmarshal(parts[n-2], &name); err != nil {
		return Op{}, decodeErrorf("kraken channel name: %v", err)
	}

	switch {
	case name == "trade":
		return decodeKrakenTrades(parts[1])
	case strings.HasPrefix(name, "book"):
		return decodeKrakenBook(parts[1 : n-2])
	}
	return Op{}, decodeErrorf("kraken channel %q", name)
}

func decodeKrakenEvent(payload []byte) (Op, error) {
	var ev krakenEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Op{}, decodeErrorf("kraken event: %v", err)
	}
	switch ev.Event {
	case "heartbeat", "systemStatus", "pong":
		return Op{Kind: OpInfo, Info: ev.Event}, nil
	case "subscriptionStatus":
		if ev.Status == "error" {
			return Op{}, fmtRejected("kraken", ev.ErrorMessage)
		}
		return Op{Kind: OpInfo, Info: ev.Event + " " + ev.Status}, nil
	}
	return Op{}, decodeErrorf("kraken event %q", ev.Event)
}

// decodeKrakenTrades reads [[price, volume, time, side, orderType, misc], ...].
func decodeKrakenTrades(raw json.RawMessage) (Op, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return Op{}, decodeErrorf("kraken trades: %v", err)
	}
	trades := make([]market.Trade, 0, len(rows))
	for _, r := range rows {
		if len(r) < 4 {
			return Op{}, decodeErrorf("kraken trade has %d fields", len(r))
		}
		ts, err := parseEpochSeconds(r[2])
		if err != nil {
			return Op{}, err
		}
		trades = append(trades, market.Trade{
			Price:    r[0],
			Size:     r[1],
			Time:     ts,
			Exchange: market.Kraken,
			Side:     parseSide(r[3]),
		})
	}
	return Op{Kind: OpTrades, Trades: trades}, nil
}

// decodeKrakenBook handles snapshots and both delta shapes: one object with
// asks or bids, or two objects carrying asks and bids separately.
func decodeKrakenBook(objs []json.RawMessage) (Op, error) {
	var (
		changes []market.Change
		seen    bool
	)
	for i, raw := range objs {
		var b krakenBook
		if err := json.Unmarshal(raw, &b); err != nil {
			return Op{}, decodeErrorf("kraken book: %v", err)
		}
		if b.As != nil || b.Bs != nil {
			if i > 0 || len(objs) > 1 {
				return Op{}, decodeErrorf("kraken snapshot mixed with updates")
			}
			bids, err := parseLevels(b.Bs)
			if err != nil {
				return Op{}, err
			}
			asks, err := parseLevels(b.As)
			if err != nil {
				return Op{}, err
			}
			return Op{Kind: OpSnapshot, Bids: bids, Asks: asks}, nil
		}
		seen = seen || b.A != nil || b.B != nil
		for _, side := range []struct {
			side market.Side
			rows [][]string
		}{{market.Sell, b.A}, {market.Buy, b.B}} {
			for _, r := range side.rows {
				lvl, err := parseLevel(r)
				if err != nil {
					return Op{}, err
				}
				changes = append(changes, market.Change{Side: side.side, Price: lvl.Price, Size: lvl.Size})
			}
		}
	}
	if !seen {
		return Op{}, decodeErrorf("kraken book message without levels")
	}
	return Op{Kind: OpDelta, Changes: changes}, nil
}

func marshalKrakenTrade(ch market.Channel, tr market.Trade) ([]byte, error) {
	side := "b"
	if tr.Side == market.Sell {
		side = "s"
	}
	row := []string{tr.Price, tr.Size, formatEpochSeconds(tr.Time), side, "m", ""}
	return json.Marshal([]interface{}{0, [][]string{row}, "trade", ch.Market})
}

func marshalKrakenSnapshot(ch market.Channel, bids, asks []market.Level) ([]byte, error) {
	rows := func(levels []market.Level) [][]string {
		out := make([][]string, 0, len(levels))
		for _, l := range levels {
			out = append(out, []string{l.Price.String(), l.Size.String(), "0.000000"})
		}
		return out
	}
	book := map[string][][]string{"as": rows(asks), "bs": rows(bids)}
	return json.Marshal([]interface{}{0, book, "book-100", ch.Market})
}
