package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/rudmsa/feedagg/internal/market"
)

var defaultMarkets = []string{"coinbase:BTC-USD", "kraken:XBT/USD", "hyperliquid:BTC"}

type runFlags struct {
	markets  []string
	duration time.Duration
	interval time.Duration
}

func addRunFlags(fs *pflag.FlagSet, f *runFlags, markets []string) {
	fs.StringSliceVarP(&f.markets, "market", "m", markets, "exchange:market to subscribe, repeatable")
	fs.DurationVarP(&f.duration, "duration", "d", 15*time.Second, "how long to run, 0 runs until interrupted")
	fs.DurationVarP(&f.interval, "interval", "i", 5*time.Second, "report interval")
}

func (f *runFlags) channels(kind market.Kind) ([]market.Channel, error) {
	if f.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return parseMarkets(f.markets, kind)
}

// parseMarkets turns exchange:market specs into channels of kind. Only the
// first colon separates, so markets may contain further punctuation.
func parseMarkets(specs []string, kind market.Kind) ([]market.Channel, error) {
	out := make([]market.Channel, 0, len(specs))
	for _, spec := range specs {
		ex, mkt, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("market %q: expected exchange:market", spec)
		}
		ch, err := market.ParseChannel(ex, kind.String(), mkt)
		if err != nil {
			return nil, fmt.Errorf("market %q: %w", spec, err)
		}
		out = append(out, ch)
	}
	return out, nil
}
