package market

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrUnknownKind     = errors.New("unknown channel kind")
)

type Exchange int

const (
	Coinbase Exchange = iota + 1
	Kraken
	Hyperliquid
)

// Exchanges lists every supported exchange in display order.
var Exchanges = []Exchange{Coinbase, Kraken, Hyperliquid}

func (e Exchange) String() string {
	switch e {
	case Coinbase:
		return "coinbase"
	case Kraken:
		return "kraken"
	case Hyperliquid:
		return "hyperliquid"
	}
	return fmt.Sprintf("exchange(%d)", int(e))
}

func (e Exchange) Valid() bool {
	return e >= Coinbase && e <= Hyperliquid
}

func (e Exchange) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Exchange) UnmarshalText(text []byte) error {
	ex, err := ParseExchange(string(text))
	if err != nil {
		return err
	}
	*e = ex
	return nil
}

// ParseExchange accepts exchange names case-insensitively. "gdax" is kept as
// an alias for the legacy Coinbase Pro feed name.
func ParseExchange(s string) (Exchange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coinbase", "gdax":
		return Coinbase, nil
	case "kraken":
		return Kraken, nil
	case "hyperliquid":
		return Hyperliquid, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownExchange, s)
}

type Kind int

const (
	Book Kind = iota + 1
	Tape
)

func (k Kind) String() string {
	switch k {
	case Book:
		return "book"
	case Tape:
		return "tape"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "book":
		return Book, nil
	case "tape", "trades":
		return Tape, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Channel identifies one market data subscription. It is comparable and used
// as the map key for all per-channel state.
type Channel struct {
	Exchange Exchange
	Kind     Kind
	Market   string
}

func NewChannel(ex Exchange, kind Kind, mkt string) Channel {
	return Channel{Exchange: ex, Kind: kind, Market: mkt}
}

// ParseChannel builds a Channel from its string parts, validating each.
func ParseChannel(exchange, kind, mkt string) (Channel, error) {
	ex, err := ParseExchange(exchange)
	if err != nil {
		return Channel{}, err
	}
	k, err := ParseKind(kind)
	if err != nil {
		return Channel{}, err
	}
	if strings.TrimSpace(mkt) == "" {
		return Channel{}, errors.New("market symbol is empty")
	}
	return NewChannel(ex, k, mkt), nil
}

func (c Channel) String() string {
	return c.Exchange.String() + ":" + c.Kind.String() + ":" + c.Market
}
