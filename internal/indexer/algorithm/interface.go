package algorithm

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNoData = errors.New("no data")
)

// Formula folds prices from one or more sources into a single index value.
type Formula interface {
	AddValue(source string, val decimal.Decimal)
	Result() (decimal.Decimal, error)
	Reset()
}
