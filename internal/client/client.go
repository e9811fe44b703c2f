package client

import (
	"time"

	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/state"
)

// Client is the blocking facade. Each call waits for the supervisor's reply.
// It is safe for concurrent use.
type Client struct {
	*runtime
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	rt, err := newRuntime(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{runtime: rt}, nil
}

func (c *Client) call(op aggregator.Op, ch market.Channel) (aggregator.Response, error) {
	req, reply := aggregator.NewRequest(op, ch)
	if err := c.submit(req); err != nil {
		return aggregator.Response{}, err
	}
	select {
	case resp := <-reply:
		return resp, resp.Err
	case <-c.done:
		select {
		case resp := <-reply:
			return resp, resp.Err
		default:
			return aggregator.Response{}, ErrUnexpectedShutdown
		}
	}
}

// Start subscribes ch and returns once the exchange connection is open.
func (c *Client) Start(ch market.Channel) error {
	_, err := c.call(aggregator.OpStart, ch)
	return err
}

// Stop unsubscribes ch. Its book or tape stays queryable.
func (c *Client) Stop(ch market.Channel) error {
	_, err := c.call(aggregator.OpStop, ch)
	return err
}

// Tape returns the recent trades of ch, oldest first.
func (c *Client) Tape(ch market.Channel) ([]market.Trade, error) {
	resp, err := c.call(aggregator.OpTape, ch)
	return resp.Tape, err
}

func (c *Client) Book(ch market.Channel) (*state.Book, error) {
	resp, err := c.call(aggregator.OpBook, ch)
	return resp.Book, err
}

// Last returns when ch last received a frame from its exchange.
func (c *Client) Last(ch market.Channel) (time.Time, error) {
	resp, err := c.call(aggregator.OpLast, ch)
	return resp.Last, err
}
