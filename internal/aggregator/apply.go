package aggregator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
)

// handleFrame processes one frame from a worker. Frames from a session that
// is no longer registered are still applied, they were read before the stop.
func (s *Supervisor) handleFrame(f feed.Frame) {
	ch := f.Channel
	sock, live := s.sockets.live(f)
	if live {
		sock.LastMessage = f.Received
	}
	log := s.log.WithFields(logrus.Fields{
		"channel": ch.String(),
		"session": f.Session.String(),
	})

	if f.Err != nil {
		s.metrics.TransportError(ch)
		log.WithError(f.Err).Warn("transport error")
		if f.Closed && live {
			s.sockets.remove(ch)
			s.metrics.SetActiveSockets(s.sockets.len())
			log.Warn("connection lost, channel orphaned")
		}
		return
	}
	s.metrics.FrameReceived(ch)

	op, err := exchange.Decode(ch.Exchange, f.Payload)
	if err == nil {
		err = s.apply(ch, op)
	}
	if err != nil {
		s.metrics.DecodeError(ch)
		log.WithError(err).Warn("frame dropped")
		if s.cfg.Supervisor.UnsubscribeOnDecodeError && live {
			if err := s.stop(ch); err != nil {
				log.WithError(err).Error("failed to unsubscribe after decode error")
			}
		}
	}
}

// apply folds a decoded op into the channel's state.
func (s *Supervisor) apply(ch market.Channel, op exchange.Op) error {
	switch op.Kind {
	case exchange.OpInfo:
		s.log.WithField("channel", ch.String()).Debug(op.Info)
		return nil

	case exchange.OpTrades:
		if ch.Kind != market.Tape {
			return fmt.Errorf("%w: trades on %s", ErrChannelResponseMismatch, ch)
		}
		tape, ok := s.store.Tape(ch)
		if !ok {
			return ErrChannelDoesNotExist
		}
		for _, tr := range op.Trades {
			tr.Exchange = ch.Exchange
			tr.Time = tr.Time.UTC()
			tape.Push(tr)
			s.publish(market.TradeEvent{Channel: ch, Trade: tr})
		}
		s.metrics.TradesAdded(ch, len(op.Trades))
		return nil

	case exchange.OpSnapshot, exchange.OpDelta:
		if ch.Kind != market.Book {
			return fmt.Errorf("%w: %s on %s", ErrChannelResponseMismatch, op.Kind, ch)
		}
		book, ok := s.store.Book(ch)
		if !ok {
			return ErrChannelDoesNotExist
		}
		if op.Kind == exchange.OpSnapshot {
			book.Replace(op.Bids, op.Asks)
		} else {
			for _, c := range op.Changes {
				if err := book.Apply(c); err != nil {
					return fmt.Errorf("%w: %v", exchange.ErrDecode, err)
				}
			}
		}
		s.metrics.BookUpdated(ch, op.Kind.String())
		return nil
	}
	return fmt.Errorf("%w: unhandled op %s", exchange.ErrDecode, op.Kind)
}

func (s *Supervisor) publish(ev market.TradeEvent) {
	if s.trades == nil {
		return
	}
	select {
	case s.trades <- ev:
	default:
		s.metrics.TradeDropped()
	}
}
