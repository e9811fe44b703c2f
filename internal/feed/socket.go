package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrTransport = errors.New("transport error")
)

// Frame is one message read from an exchange connection, tagged with the
// channel and the socket session it came from.
type Frame struct {
	Channel     market.Channel
	Session     uuid.UUID
	MessageType int
	Payload     []byte
	Err         error
	// Closed is set on the last frame a worker forwards before exiting.
	Closed   bool
	Received time.Time
}

type readResult struct {
	messageType int
	payload     []byte
	err         error
}

// Socket is the connection record for one active channel. LastMessage is
// owned by whoever holds the registry; the worker never touches it.
type Socket struct {
	ID          uuid.UUID
	Channel     market.Channel
	Opened      time.Time
	LastMessage time.Time

	conn     Conn
	writeMu  sync.Mutex
	shutdown chan bool
	done     chan struct{}
	log      logrus.FieldLogger
}

func newSocket(ch market.Channel, conn Conn, log logrus.FieldLogger) *Socket {
	id := uuid.New()
	now := time.Now().UTC()
	return &Socket{
		ID:          id,
		Channel:     ch,
		Opened:      now,
		LastMessage: now,
		conn:        conn,
		shutdown:    make(chan bool, 1),
		done:        make(chan struct{}),
		log: log.WithFields(logrus.Fields{
			"channel": ch.String(),
			"session": id.String(),
		}),
	}
}

// Send writes a text frame to the exchange.
func (s *Socket) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

// Shutdown asks the worker to close the connection and exit.
func (s *Socket) Shutdown() {
	s.signal(true)
}

func (s *Socket) signal(v bool) {
	select {
	case s.shutdown <- v:
	case <-s.done:
	}
}

// Done is closed once the worker has exited.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) run(inbound chan<- Frame, idle time.Duration) {
	defer close(s.done)

	quit := make(chan struct{})
	defer close(quit)

	reads := make(chan readResult)
	go s.readLoop(reads, quit)

	if idle <= 0 {
		idle = time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case r := <-reads:
			f := Frame{
				Channel:     s.Channel,
				Session:     s.ID,
				MessageType: r.messageType,
				Payload:     r.payload,
				Received:    time.Now().UTC(),
			}
			if r.err != nil {
				f.Err = fmt.Errorf("%w: %v", ErrTransport, r.err)
				f.Closed = true
			}
			if !s.forward(inbound, f) {
				return
			}
			if r.err != nil {
				s.log.WithError(r.err).Warn("connection closed by exchange")
				_ = s.conn.Close()
				return
			}

		case k := <-s.shutdown:
			if s.handleSignal(k) {
				return
			}

		case <-ticker.C:
		}
	}
}

// forward delivers f unless a shutdown is observed first.
func (s *Socket) forward(inbound chan<- Frame, f Frame) bool {
	for {
		select {
		case inbound <- f:
			return true
		case k := <-s.shutdown:
			if s.handleSignal(k) {
				return false
			}
		}
	}
}

func (s *Socket) handleSignal(k bool) bool {
	if !k {
		s.log.Error("shutdown signal carried false, ignoring")
		return false
	}
	s.log.Info("shutdown received, dropping socket")
	_ = s.conn.Close()
	return true
}

func (s *Socket) readLoop(out chan<- readResult, quit <-chan struct{}) {
	for {
		mt, payload, err := s.conn.ReadMessage()
		select {
		case out <- readResult{messageType: mt, payload: payload, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}
