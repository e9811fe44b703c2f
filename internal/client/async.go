package client

import (
	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/market"
)

// AsyncClient enqueues requests and returns immediately. Outcomes arrive on
// Responses tagged with the channel and op. Two in-flight calls of the same
// op on the same channel cannot be told apart.
type AsyncClient struct {
	*runtime
}

func NewAsync(cfg *config.Config, opts ...Option) (*AsyncClient, error) {
	rt, err := newRuntime(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{runtime: rt}, nil
}

func (c *AsyncClient) Responses() <-chan aggregator.Response {
	return c.sup.Responses()
}

func (c *AsyncClient) enqueue(op aggregator.Op, ch market.Channel) error {
	return c.submit(aggregator.Request{Op: op, Channel: ch})
}

func (c *AsyncClient) Start(ch market.Channel) error {
	return c.enqueue(aggregator.OpStart, ch)
}

func (c *AsyncClient) Stop(ch market.Channel) error {
	return c.enqueue(aggregator.OpStop, ch)
}

func (c *AsyncClient) Tape(ch market.Channel) error {
	return c.enqueue(aggregator.OpTape, ch)
}

func (c *AsyncClient) Book(ch market.Channel) error {
	return c.enqueue(aggregator.OpBook, ch)
}

func (c *AsyncClient) Last(ch market.Channel) error {
	return c.enqueue(aggregator.OpLast, ch)
}
