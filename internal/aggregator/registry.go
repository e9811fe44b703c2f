package aggregator

import (
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
)

// socketRegistry holds the connection record of every active channel.
// Only the supervisor goroutine touches it.
type socketRegistry struct {
	sockets map[market.Channel]*feed.Socket
}

func newSocketRegistry() *socketRegistry {
	return &socketRegistry{sockets: make(map[market.Channel]*feed.Socket)}
}

func (r *socketRegistry) add(s *feed.Socket) {
	r.sockets[s.Channel] = s
}

func (r *socketRegistry) get(ch market.Channel) (*feed.Socket, bool) {
	s, ok := r.sockets[ch]
	return s, ok
}

// live returns the record for ch only when it belongs to session.
func (r *socketRegistry) live(f feed.Frame) (*feed.Socket, bool) {
	s, ok := r.sockets[f.Channel]
	if !ok || s.ID != f.Session {
		return nil, false
	}
	return s, true
}

func (r *socketRegistry) remove(ch market.Channel) {
	delete(r.sockets, ch)
}

func (r *socketRegistry) len() int {
	return len(r.sockets)
}

func (r *socketRegistry) all() []*feed.Socket {
	out := make([]*feed.Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		out = append(out, s)
	}
	return out
}
