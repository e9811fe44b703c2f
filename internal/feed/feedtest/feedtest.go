// Package feedtest provides an in-memory Dialer for exercising connection
// workers without a network.
package feedtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrDialRefused = errors.New("dial refused")
	ErrConnClosed  = errors.New("connection closed")
)

type message struct {
	messageType int
	payload     []byte
	err         error
}

// Conn is a scripted connection. Frames pushed with Push are returned from
// ReadMessage in order.
type Conn struct {
	Channel market.Channel

	inbox     chan message
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newConn(ch market.Channel) *Conn {
	return &Conn{
		Channel: ch,
		inbox:   make(chan message, 256),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.inbox:
		return m.messageType, m.payload, m.err
	case <-c.closed:
		return 0, nil, ErrConnClosed
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Push queues a text frame for the reader.
func (c *Conn) Push(payload string) {
	c.inbox <- message{messageType: websocket.TextMessage, payload: []byte(payload)}
}

// Drop simulates the exchange closing the connection.
func (c *Conn) Drop() {
	c.inbox <- message{err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "remote closed"}}
}

// Writes returns a copy of everything written to the connection.
func (c *Conn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		out = append(out, string(w))
	}
	return out
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Dialer hands out Conns and remembers the latest one per channel.
type Dialer struct {
	mu       sync.Mutex
	conns    map[market.Channel]*Conn
	dials    int
	failures int
	urls     []string
}

func NewDialer() *Dialer {
	return &Dialer{conns: make(map[market.Channel]*Conn)}
}

var _ feed.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, url string, ch market.Channel) (feed.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.urls = append(d.urls, url)
	if d.failures > 0 {
		d.failures--
		return nil, ErrDialRefused
	}
	c := newConn(ch)
	d.conns[ch] = c
	return c, nil
}

// FailNext makes the next n dials return ErrDialRefused.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *Dialer) Conn(ch market.Channel) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[ch]
}

// WaitConn polls until a connection for ch exists or timeout passes.
func (d *Dialer) WaitConn(ch market.Channel, timeout time.Duration) *Conn {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c := d.Conn(ch); c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}
