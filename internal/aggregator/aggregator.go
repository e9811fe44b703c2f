// Package aggregator runs the supervisor: the single goroutine that owns
// every book, tape and connection record, serves client requests and applies
// normalized exchange messages.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/metrics"
	"github.com/rudmsa/feedagg/internal/state"
)

var (
	ErrAlreadyStarted           = errors.New("cannot be done when already started")
	ErrChannelAlreadySubscribed = errors.New("channel already subscribed")
	ErrChannelDoesNotExist      = errors.New("channel does not exist")
	ErrSocketDoesNotExist       = errors.New("socket does not exist")
	ErrChannelResponseMismatch  = errors.New("message does not match channel kind")
)

type Option func(*Supervisor)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithDialer replaces the websocket transport, e.g. with feed.DummyDialer.
func WithDialer(d feed.Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

// WithTradeFeed makes the supervisor publish every trade it appends to a
// tape. Sends never block; a full feed drops the event.
func WithTradeFeed(out chan<- market.TradeEvent) Option {
	return func(s *Supervisor) { s.trades = out }
}

type Supervisor struct {
	cfg     *config.Config
	dialer  feed.Dialer
	opener  *feed.Opener
	store   *state.Store
	sockets *socketRegistry

	requests  chan Request
	responses chan Response
	outbox    []Response
	inbound   chan feed.Frame
	trades    chan<- market.TradeEvent

	metrics *metrics.Collector
	log     logrus.FieldLogger

	isStarted atomic.Bool
	done      chan struct{}
}

func NewSupervisor(cfg *config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		store:     state.NewStore(),
		sockets:   newSocketRegistry(),
		requests:  make(chan Request, cfg.Supervisor.RequestBuffer),
		responses: make(chan Response, cfg.Supervisor.ResponseBuffer),
		inbound:   make(chan feed.Frame, cfg.Supervisor.InboundBuffer),
		log:       logrus.StandardLogger(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = feed.NewWSDialer(cfg.Feed.HandshakeTimeout)
	}
	s.opener = feed.NewOpener(cfg, s.dialer, s.metrics, s.log)
	return s
}

// Requests is the queue client calls are submitted on.
func (s *Supervisor) Requests() chan<- Request {
	return s.requests
}

// Responses is the shared stream for requests submitted without a reply
// slot. Responses queue inside the supervisor until the stream is drained,
// so none is lost while Run is active.
func (s *Supervisor) Responses() <-chan Response {
	return s.responses
}

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) Run(ctx context.Context) error {
	if !s.isStarted.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)
	defer s.closeAll()

	idle := s.cfg.Supervisor.IdleTick
	if idle <= 0 {
		idle = 15 * time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	s.log.Info("supervisor started")
	for {
		var (
			out  chan<- Response
			next Response
		)
		if len(s.outbox) > 0 {
			out, next = s.responses, s.outbox[0]
		}

		select {
		case <-ctx.Done():
			s.log.WithFields(logrus.Fields{
				"sockets": s.sockets.len(),
				"pending": len(s.outbox),
			}).Info("supervisor stopping")
			return nil

		case req := <-s.requests:
			s.handleRequest(ctx, req)

		case f := <-s.inbound:
			s.handleFrame(f)

		case out <- next:
			s.outbox[0] = Response{}
			s.outbox = s.outbox[1:]

		case <-ticker.C:
			s.metrics.SetActiveSockets(s.sockets.len())
		}
	}
}

func (s *Supervisor) handleRequest(ctx context.Context, req Request) {
	resp := Response{Channel: req.Channel, Op: req.Op}
	switch req.Op {
	case OpStart:
		resp.Err = s.start(ctx, req.Channel)
		if resp.Err == nil {
			resp.Status = Subscribed
		}
	case OpStop:
		resp.Err = s.stop(req.Channel)
		if resp.Err == nil {
			resp.Status = Unsubscribed
		}
	case OpTape:
		resp.Tape, resp.Err = s.tape(req.Channel)
	case OpBook:
		resp.Book, resp.Err = s.book(req.Channel)
	case OpLast:
		resp.Last, resp.Err = s.last(req.Channel)
	default:
		resp.Err = fmt.Errorf("unknown request op %d", req.Op)
	}
	s.reply(req, resp)
}

func (s *Supervisor) reply(req Request, resp Response) {
	if req.Reply != nil {
		select {
		case req.Reply <- resp:
		default:
			s.metrics.ReplyDropped()
			s.log.WithFields(logrus.Fields{
				"channel": req.Channel.String(),
				"op":      req.Op.String(),
			}).Warn("reply slot already used, response dropped")
		}
		return
	}

	if len(s.outbox) == 0 {
		select {
		case s.responses <- resp:
			return
		default:
		}
	}
	s.outbox = append(s.outbox, resp)
}

// start creates the channel's state entry and connects. The entry is never
// removed, so a channel that was stopped, orphaned by a remote close or left
// behind by a failed dial cannot be started again.
func (s *Supervisor) start(ctx context.Context, ch market.Channel) error {
	if s.store.Exists(ch) {
		return ErrChannelAlreadySubscribed
	}
	if err := s.store.Create(ch); err != nil {
		return err
	}

	sock, err := s.opener.Open(ctx, ch, s.inbound)
	if err != nil {
		s.log.WithError(err).WithField("channel", ch.String()).Error("failed to open socket")
		return fmt.Errorf("failed to start [%s]: %w", ch, err)
	}
	s.sockets.add(sock)
	s.metrics.SetActiveSockets(s.sockets.len())
	s.log.WithFields(logrus.Fields{
		"channel": ch.String(),
		"session": sock.ID.String(),
	}).Info("channel subscribed")
	return nil
}

// stop unsubscribes, signals the worker and waits for it to exit. The book
// or tape stays in place.
func (s *Supervisor) stop(ch market.Channel) error {
	sock, ok := s.sockets.get(ch)
	if !ok {
		return ErrSocketDoesNotExist
	}
	log := s.log.WithFields(logrus.Fields{
		"channel": ch.String(),
		"session": sock.ID.String(),
	})

	if msg, err := exchange.UnsubscribeMessage(ch); err == nil {
		if err := sock.Send(msg); err != nil {
			log.WithError(err).Debug("unsubscribe not delivered")
		}
	}
	sock.Shutdown()
	<-sock.Done()

	s.sockets.remove(ch)
	s.metrics.SetActiveSockets(s.sockets.len())
	log.Info("channel unsubscribed")
	return nil
}

func (s *Supervisor) tape(ch market.Channel) ([]market.Trade, error) {
	trades, err := s.store.TapeSnapshot(ch)
	if err != nil {
		return nil, ErrChannelDoesNotExist
	}
	return trades, nil
}

func (s *Supervisor) book(ch market.Channel) (*state.Book, error) {
	b, err := s.store.BookSnapshot(ch)
	if err != nil {
		return nil, ErrChannelDoesNotExist
	}
	return b, nil
}

func (s *Supervisor) last(ch market.Channel) (time.Time, error) {
	sock, ok := s.sockets.get(ch)
	if !ok {
		return time.Time{}, ErrSocketDoesNotExist
	}
	return sock.LastMessage, nil
}

func (s *Supervisor) closeAll() {
	socks := s.sockets.all()
	for _, sock := range socks {
		sock.Shutdown()
	}
	for _, sock := range socks {
		<-sock.Done()
		s.sockets.remove(sock.Channel)
	}
	s.metrics.SetActiveSockets(0)
}
