package algorithm

import (
	"sync"

	"github.com/shopspring/decimal"
)

// SourceMean weights every source equally: it keeps a streaming mean per
// source and averages those, so a busy exchange does not dominate the index.
type SourceMean struct {
	mx      sync.Mutex
	sources map[string]*StreamingMean
}

func NewSourceMean() *SourceMean {
	return &SourceMean{sources: make(map[string]*StreamingMean)}
}

func (s *SourceMean) AddValue(source string, val decimal.Decimal) {
	s.mx.Lock()
	defer s.mx.Unlock()

	m, ok := s.sources[source]
	if !ok {
		m = &StreamingMean{}
		s.sources[source] = m
	}
	m.add(val)
}

func (s *SourceMean) Result() (decimal.Decimal, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if len(s.sources) == 0 {
		return decimal.Decimal{}, ErrNoData
	}
	sum := decimal.Zero
	for _, m := range s.sources {
		sum = sum.Add(m.mean)
	}
	return sum.Div(decimal.NewFromInt(int64(len(s.sources)))), nil
}

func (s *SourceMean) Reset() {
	s.mx.Lock()
	s.sources = make(map[string]*StreamingMean)
	s.mx.Unlock()
}
