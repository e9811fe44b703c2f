package algorithm

import (
	"sync"

	"github.com/shopspring/decimal"
)

// StreamingMean is the running mean of every value added, regardless of
// source.
type StreamingMean struct {
	mx    sync.Mutex
	mean  decimal.Decimal
	count int64
}

func (s *StreamingMean) AddValue(_ string, val decimal.Decimal) {
	s.mx.Lock()
	s.add(val)
	s.mx.Unlock()
}

// add folds val in without keeping the running sum, so long intervals of
// large prices do not grow the decimal.
func (s *StreamingMean) add(val decimal.Decimal) {
	s.count++
	s.mean = s.mean.Add(val.Sub(s.mean).Div(decimal.NewFromInt(s.count)))
}

func (s *StreamingMean) Result() (decimal.Decimal, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.count == 0 {
		return decimal.Decimal{}, ErrNoData
	}
	return s.mean, nil
}

func (s *StreamingMean) Reset() {
	s.mx.Lock()
	s.mean, s.count = decimal.Zero, 0
	s.mx.Unlock()
}
