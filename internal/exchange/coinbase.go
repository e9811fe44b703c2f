package exchange

import (
	"encoding/json"
	"time"

	"github.com/rudmsa/feedagg/internal/market"
)

type coinbaseChannel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

type coinbaseRequest struct {
	Type     string            `json:"type"`
	Channels []coinbaseChannel `json:"channels"`
}

type coinbaseTicker struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	LastSize  string `json:"last_size"`
	Side      string `json:"side"`
	Time      string `json:"time"`
}

type coinbaseSnapshot struct {
	ProductID string     `json:"product_id"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

type coinbaseL2Update struct {
	ProductID string     `json:"product_id"`
	Time      string     `json:"time"`
	Changes   [][]string `json:"changes"`
}

type coinbaseError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func coinbaseSubscription(ch market.Channel, action string) ([]byte, error) {
	name := "ticker"
	if ch.Kind == market.Book {
		name = "level2_batch"
	}
	return json.Marshal(coinbaseRequest{
		Type:     action,
		Channels: []coinbaseChannel{{Name: name, ProductIDs: []string{ch.Market}}},
	})
}

func decodeCoinbase(payload []byte) (Op, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return Op{}, decodeErrorf("coinbase envelope: %v", err)
	}

	switch head.Type {
	case "subscriptions", "heartbeat", "status":
		return Op{Kind: OpInfo, Info: head.Type}, nil

	case "ticker":
		var t coinbaseTicker
		if err := json.Unmarshal(payload, &t); err != nil {
			return Op{}, decodeErrorf("coinbase ticker: %v", err)
		}
		tr, err := t.trade()
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpTrades, Trades: []market.Trade{tr}}, nil

	case "snapshot":
		var s coinbaseSnapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			return Op{}, decodeErrorf("coinbase snapshot: %v", err)
		}
		bids, err := parseLevels(s.Bids)
		if err != nil {
			return Op{}, err
		}
		asks, err := parseLevels(s.Asks)
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpSnapshot, Bids: bids, Asks: asks}, nil

	case "l2update":
		var u coinbaseL2Update
		if err := json.Unmarshal(payload, &u); err != nil {
			return Op{}, decodeErrorf("coinbase l2update: %v", err)
		}
		changes := make([]market.Change, 0, len(u.Changes))
		for _, c := range u.Changes {
			if len(c) < 3 {
				return Op{}, decodeErrorf("coinbase change has %d fields", len(c))
			}
			side := parseSide(c[0])
			if side == market.SideUnknown {
				return Op{}, decodeErrorf("coinbase change side %q", c[0])
			}
			lvl, err := parseLevel(c[1:])
			if err != nil {
				return Op{}, err
			}
			changes = append(changes, market.Change{Side: side, Price: lvl.Price, Size: lvl.Size})
		}
		return Op{Kind: OpDelta, Changes: changes}, nil

	case "error":
		var e coinbaseError
		_ = json.Unmarshal(payload, &e)
		return Op{}, fmtRejected("coinbase", e.Message+" "+e.Reason)
	}
	return Op{}, decodeErrorf("coinbase message type %q", head.Type)
}

func (t coinbaseTicker) trade() (market.Trade, error) {
	size := t.LastSize
	if size == "" {
		size = t.Size
	}
	if t.Price == "" || size == "" {
		return market.Trade{}, decodeErrorf("coinbase ticker without price or size")
	}
	ts, err := time.Parse(time.RFC3339Nano, t.Time)
	if err != nil {
		return market.Trade{}, decodeErrorf("coinbase ticker time %q: %v", t.Time, err)
	}
	return market.Trade{
		Price:    t.Price,
		Size:     size,
		Time:     ts.UTC(),
		Exchange: market.Coinbase,
		Side:     parseSide(t.Side),
	}, nil
}

func marshalCoinbaseTrade(ch market.Channel, tr market.Trade) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":       "ticker",
		"product_id": ch.Market,
		"price":      tr.Price,
		"last_size":  tr.Size,
		"side":       tr.Side.String(),
		"time":       tr.Time.UTC().Format(time.RFC3339Nano),
	})
}

func marshalCoinbaseSnapshot(ch market.Channel, bids, asks []market.Level) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type":       "snapshot",
		"product_id": ch.Market,
		"bids":       levelPairs(bids),
		"asks":       levelPairs(asks),
	})
}

func levelPairs(levels []market.Level) [][]string {
	out := make([][]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, []string{l.Price.String(), l.Size.String()})
	}
	return out
}
