package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/indexer/algorithm"
	"github.com/rudmsa/feedagg/internal/market"
)

const (
	OutputDefaultBuffer = 16
)

// Indexer turns the trade feed into one price bar per interval. The formula
// is reset after every bar, so each bar covers only its own interval.
type Indexer struct {
	interval time.Duration
	formula  algorithm.Formula
	input    <-chan market.TradeEvent
	out      chan PriceBar
	window   barRange
	log      logrus.FieldLogger
}

func NewPriceIndexer(formula algorithm.Formula, interval time.Duration, input <-chan market.TradeEvent, log logrus.FieldLogger) *Indexer {
	return &Indexer{
		interval: interval,
		formula:  formula,
		input:    input,
		out:      make(chan PriceBar, OutputDefaultBuffer),
		log:      log,
	}
}

func (ind *Indexer) GetIndexOutput() <-chan PriceBar {
	return ind.out
}

func (ind *Indexer) Run(ctx context.Context) error {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	ind.mainLoop(ctx)
	close(ind.out)

	return nil
}

func (ind *Indexer) mainLoop(ctx context.Context) {
	ticker := time.NewTicker(nextTick(ind.interval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			ticker.Reset(nextTick(ind.interval))
			ind.emit()

		case ev, ok := <-ind.input:
			if !ok {
				ind.log.Warn("trade feed closed, indexer stopping")
				return
			}
			quote, err := TradeToQuote(ev)
			if err != nil {
				ind.log.WithError(err).WithField("channel", ev.Channel.String()).Warn("trade skipped")
				break
			}
			ind.formula.AddValue(quote.Source.String(), quote.Price)
			ind.window.add(quote.Price)
		}
	}
}

func (ind *Indexer) emit() {
	result, err := ind.formula.Result()
	if err != nil {
		if !errors.Is(err, algorithm.ErrNoData) {
			ind.log.WithError(err).Error("failed to compute index")
		}
		return
	}
	bar := ind.window.build(result, time.Now())
	ind.formula.Reset()
	ind.window = barRange{}

	select {
	case ind.out <- bar:
	default:
		ind.log.WithField("stamp", bar.Stamp).Warn("index output full, bar dropped")
	}
}

func nextTick(interval time.Duration) time.Duration {
	now := time.Now()
	expected := now.Round(interval).Add(interval)
	return expected.Sub(now)
}
