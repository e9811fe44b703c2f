package state

import (
	"github.com/rudmsa/feedagg/internal/market"
)

const (
	TapeCapacity = 100
)

// Tape is a fixed-size ring of the most recent trades on a channel.
type Tape struct {
	buf   []market.Trade
	start int
	size  int
}

func NewTape() *Tape {
	return &Tape{buf: make([]market.Trade, TapeCapacity)}
}

// Push appends a trade, evicting the oldest one once the tape is full.
func (t *Tape) Push(tr market.Trade) {
	if t.size < len(t.buf) {
		t.buf[(t.start+t.size)%len(t.buf)] = tr
		t.size++
		return
	}
	t.buf[t.start] = tr
	t.start = (t.start + 1) % len(t.buf)
}

func (t *Tape) Len() int {
	return t.size
}

// Trades returns a copy of the tape, oldest first.
func (t *Tape) Trades() []market.Trade {
	out := make([]market.Trade, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.buf[(t.start+i)%len(t.buf)]
	}
	return out
}

// Last returns the most recent trade.
func (t *Tape) Last() (market.Trade, bool) {
	if t.size == 0 {
		return market.Trade{}, false
	}
	return t.buf[(t.start+t.size-1)%len(t.buf)], true
}
