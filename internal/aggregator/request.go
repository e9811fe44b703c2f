package aggregator

import (
	"time"

	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/state"
)

type Op int

const (
	OpStart Op = iota + 1
	OpStop
	OpTape
	OpBook
	OpLast
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpTape:
		return "tape"
	case OpBook:
		return "book"
	case OpLast:
		return "last"
	}
	return "unknown"
}

type Status int

const (
	StatusNone Status = iota
	Subscribed
	Unsubscribed
)

func (s Status) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	case Unsubscribed:
		return "unsubscribed"
	}
	return "none"
}

// Request is one client call. When Reply is set the Response is delivered
// there, otherwise it goes to the shared response stream.
type Request struct {
	Op      Op
	Channel market.Channel
	Reply   chan Response
}

// NewRequest builds a request with a single-use reply slot.
func NewRequest(op Op, ch market.Channel) (Request, <-chan Response) {
	reply := make(chan Response, 1)
	return Request{Op: op, Channel: ch, Reply: reply}, reply
}

// Response carries the outcome of one Request. Only the field matching Op
// is set; Err is non-nil on failure.
type Response struct {
	Channel market.Channel
	Op      Op
	Status  Status
	Tape    []market.Trade
	Book    *state.Book
	Last    time.Time
	Err     error
}
